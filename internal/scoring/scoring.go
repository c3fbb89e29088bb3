// Package scoring turns raw test-runner output into a verdict and a score.
//
// The runner's output format is a textual contract with whatever test tool
// the lab invokes, so counting is delegated to a Parser chosen per
// deployment.
package scoring

import (
	"fmt"
	"strings"

	"github.com/michaelbrown/labforge/internal/sandbox"
)

// Parser counts test outcomes in raw output.
type Parser interface {
	Parse(output string) (passed, total int)
}

// MarkerParser counts lines containing a passed or failed marker. A line
// containing both counts once toward total and once toward passed.
type MarkerParser struct {
	Passed string
	Failed string
}

// DefaultMarkers matches the dotnet test console logger.
var DefaultMarkers = MarkerParser{Passed: "Passed", Failed: "Failed"}

func (p MarkerParser) Parse(output string) (passed, total int) {
	for _, line := range strings.Split(output, "\n") {
		hasPassed := p.Passed != "" && strings.Contains(line, p.Passed)
		hasFailed := p.Failed != "" && strings.Contains(line, p.Failed)
		if hasPassed {
			passed++
		}
		if hasPassed || hasFailed {
			total++
		}
	}
	return passed, total
}

// GoTestParser counts `go test -v` result lines, including subtests.
type GoTestParser struct{}

func (GoTestParser) Parse(output string) (passed, total int) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "--- PASS:"):
			passed++
			total++
		case strings.HasPrefix(line, "--- FAIL:"):
			total++
		}
	}
	return passed, total
}

// ParserByName resolves a configured parser name.
func ParserByName(name string) (Parser, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "marker":
		return DefaultMarkers, nil
	case "gotest":
		return GoTestParser{}, nil
	default:
		return nil, fmt.Errorf("unknown score parser %q", name)
	}
}

// Score derives the verdict and score for one execution. passed requires a
// clean, non-timed-out exit; the score depends only on stdout so partial
// credit survives a failing exit status. Output without any recognizable
// test lines scores zero.
func Score(res *sandbox.ExecResult, maxScore int, p Parser) (passed bool, score int) {
	if res == nil {
		return false, 0
	}
	if p == nil {
		p = DefaultMarkers
	}
	passed = res.Completed && res.ExitCode == 0

	if maxScore <= 0 {
		return passed, 0
	}
	ok, total := p.Parse(res.Stdout)
	if total <= 0 || ok <= 0 {
		return passed, 0
	}
	if ok > total {
		ok = total
	}
	score = int(int64(ok) * int64(maxScore) / int64(total))
	return passed, min(max(score, 0), maxScore)
}

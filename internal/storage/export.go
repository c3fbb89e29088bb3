package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders a submission and its lab as a markdown report.
func ExportMarkdown(lab *Lab, sub *Submission) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# %s\n\n", lab.Title))
	b.WriteString(fmt.Sprintf("- **Submission:** %d\n", sub.ID))
	b.WriteString(fmt.Sprintf("- **Submitter:** %s\n", sub.SubmitterID))
	b.WriteString(fmt.Sprintf("- **Score:** %d / %d\n", sub.Score, lab.MaxScore))
	verdict := "failed"
	if sub.Passed {
		verdict = "passed"
	}
	if sub.TimedOut {
		verdict += " (timed out)"
	}
	b.WriteString(fmt.Sprintf("- **Verdict:** %s\n", verdict))
	b.WriteString(fmt.Sprintf("- **Duration:** %d ms\n", sub.DurationMs))
	b.WriteString(fmt.Sprintf("- **Submitted:** %s\n", sub.SubmittedAt.Format("2006-01-02 15:04:05")))
	b.WriteString("\n---\n\n")

	b.WriteString("## Code\n\n```csharp\n")
	b.WriteString(strings.TrimRight(sub.Code, "\n"))
	b.WriteString("\n```\n\n")

	if sub.TestResults != "" {
		b.WriteString(fmt.Sprintf("<details>\n<summary>Test output</summary>\n\n```\n%s\n```\n</details>\n\n", strings.TrimRight(sub.TestResults, "\n")))
	}
	if sub.ErrorMessage != "" {
		b.WriteString(fmt.Sprintf("## Error\n\n```\n%s\n```\n", strings.TrimRight(sub.ErrorMessage, "\n")))
	}

	return b.String()
}

// ExportJSON renders a submission and its lab as formatted JSON.
func ExportJSON(lab *Lab, sub *Submission) ([]byte, error) {
	export := struct {
		Lab        *Lab        `json:"lab"`
		Submission *Submission `json:"submission"`
	}{
		Lab:        lab,
		Submission: sub,
	}
	return json.MarshalIndent(export, "", "  ")
}

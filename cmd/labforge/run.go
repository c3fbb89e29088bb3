package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/labforge/internal/app"
	"github.com/michaelbrown/labforge/internal/lab"
	"github.com/michaelbrown/labforge/internal/sandbox"
)

var errNotPassed = errors.New("lab not passed")

var (
	submitterFlag string
	jsonFlag      bool
	noSaveFlag    bool
	streamFlag    bool
)

var runCmd = &cobra.Command{
	Use:   "run <lab-id> <file>",
	Short: "Grade a code file against a lab",
	Long: `Run the lab's tests against the given file and print the scored result.
Use "-" to read the code from stdin. Ctrl-C cancels the run.

Examples:
  labforge run 3 UserCode.cs
  labforge run 3 - --json < UserCode.cs`,
	Args: cobra.ExactArgs(2),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&submitterFlag, "submitter", defaultSubmitter(), "Submitter ID recorded with the attempt")
	runCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the result as JSON")
	runCmd.Flags().BoolVar(&noSaveFlag, "no-save", false, "Do not record the attempt")
	runCmd.Flags().BoolVar(&streamFlag, "stream", false, "Echo test output while it runs")
	rootCmd.AddCommand(runCmd)
}

func defaultSubmitter() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func runRun(cmd *cobra.Command, args []string) error {
	labID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid lab id %q", args[0])
	}
	code, err := readCode(args[1])
	if err != nil {
		return err
	}

	a, err := app.Load(configFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.NewRunner(!noSaveFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var onLine func(sandbox.Line)
	if streamFlag && !jsonFlag {
		onLine = func(l sandbox.Line) {
			fmt.Fprintf(os.Stderr, "\033[90m│ %s\033[0m\n", l.Text)
		}
	}

	res := runner.RunLabStreaming(ctx, labID, code, submitterFlag, onLine)

	if jsonFlag {
		out := struct {
			lab.Result
			ExecutionTimeMs int64 `json:"execution_time_ms"`
		}{res, res.ExecutionTime.Milliseconds()}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		printResult(res)
	}

	if !res.Success {
		return errNotPassed
	}
	return nil
}

func readCode(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading code: %w", err)
	}
	return string(data), nil
}

func printResult(res lab.Result) {
	verdict := "\033[31mFAILED\033[0m"
	if res.Success {
		verdict = "\033[32mPASSED\033[0m"
	}
	fmt.Printf("Result:   %s\n", verdict)
	fmt.Printf("Score:    %d\n", res.Score)
	fmt.Printf("Duration: %s\n", res.ExecutionTime.Round(time.Millisecond))
	if res.SubmissionID != 0 {
		fmt.Printf("Saved as: submission %d\n", res.SubmissionID)
	}
	if res.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", truncate(res.ErrorMessage, 500))
	}
	if res.Output != "" && !streamFlag {
		fmt.Println()
		fmt.Print(res.Output)
	}
}

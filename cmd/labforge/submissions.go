package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/labforge/internal/app"
	"github.com/michaelbrown/labforge/internal/storage"
)

var (
	labFilter       int64
	submitterFilter string
	limitFlag       int
	exportFormat    string
	exportOutput    string
)

var submissionsCmd = &cobra.Command{
	Use:     "submissions",
	Aliases: []string{"submission", "subs"},
	Short:   "Inspect recorded attempts",
}

var submissionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded attempts, newest first",
	RunE:  runSubmissionsList,
}

var submissionsExportCmd = &cobra.Command{
	Use:   "export <submission-id>",
	Short: "Export an attempt as markdown or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmissionsExport,
}

func init() {
	rootCmd.AddCommand(submissionsCmd)
	submissionsCmd.AddCommand(submissionsListCmd, submissionsExportCmd)

	submissionsListCmd.Flags().Int64Var(&labFilter, "lab", 0, "Filter by lab ID")
	submissionsListCmd.Flags().StringVar(&submitterFilter, "submitter", "", "Filter by submitter ID")
	submissionsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max attempts to show")

	submissionsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	submissionsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
}

func runSubmissionsList(cmd *cobra.Command, args []string) error {
	a, err := app.Load(configFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	subs, err := a.Store.ListSubmissions(context.Background(), storage.SubmissionListOptions{
		LabID:       labFilter,
		SubmitterID: submitterFilter,
		Limit:       limitFlag,
	})
	if err != nil {
		return err
	}

	if len(subs) == 0 {
		fmt.Println("No submissions found.")
		return nil
	}

	// Header
	fmt.Printf("%-8s %-6s %-20s %-6s %-8s %-10s %s\n", "ID", "LAB", "SUBMITTER", "SCORE", "RESULT", "DURATION", "SUBMITTED")
	fmt.Println(strings.Repeat("─", 80))

	for _, s := range subs {
		submitter := s.SubmitterID
		if len(submitter) > 18 {
			submitter = submitter[:18] + ".."
		}

		result := "fail"
		switch {
		case s.TimedOut:
			result = "timeout"
		case s.Passed:
			result = "pass"
		}

		fmt.Printf("%-8d %-6d %-20s %-6d %-8s %-10s %s\n",
			s.ID, s.LabID, submitter, s.Score, result,
			(time.Duration(s.DurationMs) * time.Millisecond).String(), timeAgo(s.SubmittedAt))
	}

	return nil
}

func runSubmissionsExport(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid submission id %q", args[0])
	}

	a, err := app.Load(configFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	sub, err := a.Store.GetSubmission(ctx, id)
	if err != nil {
		return err
	}
	l, err := a.Store.GetLab(ctx, sub.LabID)
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(l, sub)
		if err != nil {
			return err
		}
		output = string(data) + "\n"
	default:
		output = storage.ExportMarkdown(l, sub)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

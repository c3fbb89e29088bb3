package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/labforge/internal/app"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: loading .env: %v\n", err)
	}

	// stdout carries the MCP protocol; logging goes to stderr.
	a, err := app.Load(os.Getenv("LABFORGE_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer a.Close()

	runner, err := a.NewRunner(true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	h := &handlers{runner: runner, labs: a.Store}

	s := server.NewMCPServer("labforge-lab-runner", "0.1.0")

	s.AddTool(mcp.Tool{
		Name:        "lab_run",
		Description: "Run a lab's test suite against the given code and return the score.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"lab_id": map[string]any{
					"type":        "number",
					"description": "ID of the lab to run",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Source code of the submission",
				},
				"submitter": map[string]any{
					"type":        "string",
					"description": "Submitter ID recorded with the attempt (optional)",
				},
			},
			Required: []string{"lab_id", "code"},
		},
	}, h.handleLabRun)

	s.AddTool(mcp.Tool{
		Name:        "lab_list",
		Description: "List the available labs.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}, h.handleLabList)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
	}
}

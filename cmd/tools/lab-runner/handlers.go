package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/michaelbrown/labforge/internal/lab"
	"github.com/michaelbrown/labforge/internal/sandbox"
	"github.com/michaelbrown/labforge/internal/storage"
)

const (
	defaultSubmitter = "mcp"
	maxOutputChars   = 4000
)

type labRunner interface {
	RunLabStreaming(ctx context.Context, labID int64, code, submitterID string, onLine func(sandbox.Line)) lab.Result
}

type labLister interface {
	ListLabs(ctx context.Context) ([]storage.Lab, error)
}

type handlers struct {
	runner labRunner
	labs   labLister
}

func (h *handlers) handleLabRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	rawID, ok := args["lab_id"].(float64)
	if !ok || rawID != float64(int64(rawID)) {
		return errResult("error: 'lab_id' must be an integer"), nil
	}
	code, _ := args["code"].(string)
	if strings.TrimSpace(code) == "" {
		return errResult("error: 'code' is required"), nil
	}
	submitter, _ := args["submitter"].(string)
	if submitter == "" {
		submitter = defaultSubmitter
	}

	res := h.runner.RunLabStreaming(ctx, int64(rawID), code, submitter, nil)

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: formatResult(res)}},
		IsError: !res.Success,
	}, nil
}

func (h *handlers) handleLabList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	labs, err := h.labs.ListLabs(ctx)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	if len(labs) == 0 {
		return textResult("no labs available"), nil
	}

	var b strings.Builder
	for _, l := range labs {
		fmt.Fprintf(&b, "%d\t%s\t(max score %d)\n", l.ID, l.Title, l.MaxScore)
	}
	return textResult(b.String()), nil
}

func formatResult(res lab.Result) string {
	var b strings.Builder
	verdict := "FAILED"
	if res.Success {
		verdict = "PASSED"
	}
	fmt.Fprintf(&b, "result: %s\nscore: %d\n", verdict, res.Score)
	if res.TimedOut {
		b.WriteString("timed out: true\n")
	}
	if res.ErrorMessage != "" {
		fmt.Fprintf(&b, "error: %s\n", res.ErrorMessage)
	}
	if res.Output != "" {
		b.WriteString("\n")
		b.WriteString(res.Output)
	}

	text := b.String()
	if len(text) > maxOutputChars {
		text = text[:maxOutputChars] + "\n... (output truncated)"
	}
	return text
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}

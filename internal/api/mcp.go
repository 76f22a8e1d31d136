package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/redactor/internal/pipeline"
	"github.com/kalambet/redactor/internal/reference"
	"github.com/kalambet/redactor/internal/results"
	"github.com/kalambet/redactor/internal/textstats"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Runner     *pipeline.Runner
	References *reference.Store // optional; add_reference reports an error without it
	Company    CompanyContext   // optional
	Version    string
}

// NewMCPServer creates an MCP server with the redactor tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"redactor",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("redactor writes, corrects and summarizes business texts in the company's voice."),
		server.WithRecovery(),
	)

	providerOpts := []mcp.ToolOption{
		mcp.WithString("instructions", mcp.Description("Additional instructions for the model")),
		mcp.WithString("provider", mcp.Description("openai, gemini, anthropic, openrouter or ollama")),
		mcp.WithString("model", mcp.Description("Model id; defaults to the provider's default")),
		mcp.WithNumber("temperature", mcp.Description("Sampling temperature between 0 and 2")),
	}

	s.AddTool(
		mcp.NewTool("generate_text", append([]mcp.ToolOption{
			mcp.WithDescription("Write a professional business text about a topic."),
			mcp.WithString("topic", mcp.Description("What the text is about"), mcp.Required()),
			mcp.WithNumber("max_words", mcp.Description("Approximate length in words (default 200)")),
		}, providerOpts...)...),
		mcpAction(deps, "generar", "topic"),
	)

	s.AddTool(
		mcp.NewTool("correct_text", append([]mcp.ToolOption{
			mcp.WithDescription("Proofread and improve a business text."),
			mcp.WithString("text", mcp.Description("The text to correct"), mcp.Required()),
		}, providerOpts...)...),
		mcpAction(deps, "corregir", "text"),
	)

	s.AddTool(
		mcp.NewTool("summarize_text", append([]mcp.ToolOption{
			mcp.WithDescription("Summarize a business text."),
			mcp.WithString("text", mcp.Description("The text to summarize"), mcp.Required()),
			mcp.WithNumber("max_words", mcp.Description("Approximate summary length in words (default 100)")),
		}, providerOpts...)...),
		mcpAction(deps, "resumir", "text"),
	)

	s.AddTool(
		mcp.NewTool("record_feedback",
			mcp.WithDescription("Approve or reject a stored result. Rejected results leave the active history."),
			mcp.WithString("id", mcp.Description("Result id"), mcp.Required()),
			mcp.WithBoolean("approved", mcp.Description("true to approve, false to reject"), mcp.Required()),
			mcp.WithString("comment", mcp.Description("Optional comment")),
		),
		mcpRecordFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("list_results",
			mcp.WithDescription("List stored results, newest first."),
			mcp.WithString("month", mcp.Description("YYYY-MM; defaults to the current month")),
			mcp.WithString("collection", mcp.Description("active (default), rejected or combined")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpListResults(deps),
	)

	s.AddTool(
		mcp.NewTool("result_stats",
			mcp.WithDescription("Feedback statistics for a month."),
			mcp.WithString("month", mcp.Description("YYYY-MM; defaults to the current month")),
		),
		mcpResultStats(deps),
	)

	s.AddTool(
		mcp.NewTool("add_reference",
			mcp.WithDescription("Store a reference text used as a style example."),
			mcp.WithString("name", mcp.Description("File name with extension, e.g. carta.txt"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Text content"), mcp.Required()),
		),
		mcpAddReference(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"redactor://company",
			"Company Context",
			mcp.WithResourceDescription("The company context block added to every prompt"),
			mcp.WithMIMEType("text/plain"),
		),
		mcpResourceCompany(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"redactor://recent",
			"Recent Results",
			mcp.WithResourceDescription("Last 10 stored results (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpAction(deps MCPDeps, action, inputKey string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := req.RequireString(inputKey)
		if err != nil {
			return mcpError(inputKey + " is required"), nil
		}

		preq := pipeline.Request{
			Action:       action,
			Input:        input,
			MaxWords:     req.GetInt("max_words", 0),
			Instructions: req.GetString("instructions", ""),
			Provider:     req.GetString("provider", ""),
			Model:        req.GetString("model", ""),
		}
		if _, ok := req.GetArguments()["temperature"]; ok {
			t := req.GetFloat("temperature", 0)
			preq.Temperature = &t
		}

		out, err := deps.Runner.Run(ctx, preq)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if out.Result.Failed() {
			return mcpError(out.Result.Text), nil
		}

		b, err := json.Marshal(map[string]any{
			"id":          out.ID,
			"text":        out.Result.Text,
			"words":       out.Words,
			"tokens_used": out.Result.TokensUsed,
			"cost":        out.Result.Cost,
			"model":       out.Provider + "/" + out.Model,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecordFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		approved, err := req.RequireBool("approved")
		if err != nil {
			return mcpError("approved is required"), nil
		}

		found, err := deps.Runner.Feedback(id, approved, req.GetString("comment", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record feedback: %v", err)), nil
		}
		if !found {
			return mcpError(fmt.Sprintf("result %s not found", id)), nil
		}
		if approved {
			return mcpText(fmt.Sprintf("Approved %s", id)), nil
		}
		return mcpText(fmt.Sprintf("Rejected %s", id)), nil
	}
}

type resultSummary struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Title  string `json:"title"`
	Words  int    `json:"words"`
	Model  string `json:"model"`
	Status string `json:"status"`
}

func summarize(recs []results.Record) []resultSummary {
	out := make([]resultSummary, len(recs))
	for i, r := range recs {
		out[i] = resultSummary{
			ID:     r.ID,
			Action: string(r.Action),
			Title:  textstats.ShortTitle(r.Topic, 60),
			Words:  r.Words,
			Model:  r.Model,
			Status: r.Feedback.Status().String(),
		}
	}
	return out
}

func mcpListResults(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		month := req.GetString("month", "")
		if month != "" && !validMonth(month) {
			return mcpError("month must be YYYY-MM"), nil
		}
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		store := deps.Runner.Results()
		var recs []results.Record
		switch req.GetString("collection", "active") {
		case "active", "":
			recs = store.ListActive(month)
		case "rejected":
			recs = store.ListRejected(month)
		case "combined":
			recs = store.ListCombined(month)
		default:
			return mcpError("collection must be active, rejected or combined"), nil
		}
		results.SortNewest(recs)
		if len(recs) > limit {
			recs = recs[:limit]
		}

		b, err := json.Marshal(summarize(recs))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResultStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		month := req.GetString("month", "")
		if month != "" && !validMonth(month) {
			return mcpError("month must be YYYY-MM"), nil
		}
		b, err := json.Marshal(deps.Runner.Results().Stats(month))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddReference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.References == nil {
			return mcpError("reference store not configured"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		stored, err := deps.References.Save(name, []byte(content))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save reference: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored reference %s", stored)), nil
	}
}

func mcpResourceCompany(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		text := ""
		if deps.Company != nil {
			text = deps.Company.Context()
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     text,
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		recs := deps.Runner.Results().ListCombined("")
		results.SortNewest(recs)
		if len(recs) > 10 {
			recs = recs[:10]
		}

		b, err := json.Marshal(summarize(recs))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal results: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

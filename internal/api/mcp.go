package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/carelink/aftercare/internal/agents"
	"github.com/carelink/aftercare/internal/orchestrator"
	"github.com/carelink/aftercare/internal/policy"
	"github.com/carelink/aftercare/internal/triage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Orchestrator *orchestrator.Orchestrator
	Triage       *triage.Classifier
	Caregiver    *agents.Caregiver
	Policies     policy.Set
}

// NewMCPServer creates an MCP server exposing the turn pipeline, the triage
// classifier, and caregiver summaries as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"aftercare",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("aftercare — post-discharge patient message routing, triage, and follow-up."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("process_turn",
			mcp.WithDescription("Run a patient message through the full pipeline: routing, domain handling, triage, and audit."),
			mcp.WithString("input", mcp.Description("The patient's message"), mcp.Required()),
			mcp.WithString("patient_id", mcp.Description("Known 8-digit patient ID, if the conversation already has one")),
			mcp.WithString("session_id", mcp.Description("Conversation session ID to group related turns")),
		),
		mcpProcessTurn(deps),
	)

	s.AddTool(
		mcp.NewTool("triage_message",
			mcp.WithDescription("Classify a symptom description into a RED/ORANGE/GREEN triage tier without side effects."),
			mcp.WithString("text", mcp.Description("Symptom description to classify"), mcp.Required()),
			mcp.WithString("patient_id", mcp.Description("Patient ID for recurrence history")),
		),
		mcpTriageMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("patient_summary",
			mcp.WithDescription("Build the consent-gated weekly digest for one patient."),
			mcp.WithString("patient_id", mcp.Description("8-digit patient ID"), mcp.Required()),
		),
		mcpPatientSummary(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"aftercare://policies",
			"Care Policies",
			mcp.WithResourceDescription("Active per-agent care policies as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePolicies(deps),
	)

	return s
}

func mcpProcessTurn(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := req.RequireString("input")
		if err != nil {
			return mcpError("input is required"), nil
		}
		patientID := req.GetString("patient_id", "")
		sessionID := req.GetString("session_id", "")

		turn := deps.Orchestrator.Process(ctx, orchestrator.Input{
			Text:           input,
			KnownPatientID: patientID,
			SessionID:      sessionID,
		})
		b, err := json.Marshal(newTurnResponse(turn))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal turn: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTriageMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		patientID := req.GetString("patient_id", "")

		verdict := deps.Triage.Evaluate(ctx, triage.Input{Text: text, PatientID: patientID})
		b, err := json.Marshal(verdict)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal verdict: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpPatientSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		patientID, err := req.RequireString("patient_id")
		if err != nil {
			return mcpError("patient_id is required"), nil
		}

		digest, err := deps.Caregiver.DigestFor(ctx, patientID)
		if err != nil {
			return mcpError(fmt.Sprintf("summary unavailable: %v", err)), nil
		}
		b, err := json.Marshal(digest)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal digest: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourcePolicies(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Policies)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal policies: %w", err)
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

package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"reverie/internal/api"
	"reverie/internal/services"
)

// Tools holds the service the tool handlers call.
type Tools struct {
	Service api.Service
}

type DreamInput struct {
	DreamID string `json:"dream_id" jsonschema:"Identifier of the dream"`
}

type GenerateStageInput struct {
	DreamID string `json:"dream_id" jsonschema:"Identifier of the dream"`
	Stage   string `json:"stage" jsonschema:"Stage name: summary, analysis, expanded_analysis, questions, image or video"`
	Force   bool   `json:"force,omitempty" jsonschema:"Regenerate even when the stage already completed"`
}

type SubmitCheckInInput struct {
	UserID     string             `json:"user_id" jsonschema:"Owner of the check-in"`
	Text       string             `json:"text" jsonschema:"Free-text description of how the user feels"`
	MoodScores map[string]float64 `json:"mood_scores,omitempty" jsonschema:"Optional mood name to score (0-1) map"`
}

type CheckInInput struct {
	CheckInID string `json:"checkin_id" jsonschema:"Identifier of the check-in"`
}

func (t *Tools) GetDream(ctx context.Context, _ *mcp.CallToolRequest, input DreamInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.DreamID) == "" {
		return toolError("dream_id is required"), nil, nil
	}
	dream, err := t.Service.GetDream(ctx, input.DreamID)
	if err != nil {
		return serviceError("get dream", err), nil, nil
	}
	return toolJSON(dream)
}

func (t *Tools) FinishDream(ctx context.Context, _ *mcp.CallToolRequest, input DreamInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.DreamID) == "" {
		return toolError("dream_id is required"), nil, nil
	}
	dream, err := t.Service.FinishDream(ctx, input.DreamID)
	if err != nil {
		return serviceError("finish dream", err), nil, nil
	}
	return toolJSON(dream)
}

func (t *Tools) GenerateStage(ctx context.Context, _ *mcp.CallToolRequest, input GenerateStageInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.DreamID) == "" || strings.TrimSpace(input.Stage) == "" {
		return toolError("dream_id and stage are required"), nil, nil
	}
	stage, err := t.Service.GenerateStage(ctx, input.DreamID, input.Stage, input.Force)
	if err != nil {
		return serviceError("generate "+input.Stage, err), nil, nil
	}
	return toolJSON(stage)
}

func (t *Tools) RecoverDream(ctx context.Context, _ *mcp.CallToolRequest, input DreamInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.DreamID) == "" {
		return toolError("dream_id is required"), nil, nil
	}
	report, err := t.Service.RecoverDream(ctx, input.DreamID)
	if err != nil {
		return serviceError("recover dream", err), nil, nil
	}
	return toolJSON(report)
}

func (t *Tools) SubmitCheckIn(ctx context.Context, _ *mcp.CallToolRequest, input SubmitCheckInInput) (*mcp.CallToolResult, any, error) {
	checkIn, err := t.Service.SubmitCheckIn(ctx, api.CheckInRequest{
		UserID:     input.UserID,
		Text:       input.Text,
		MoodScores: input.MoodScores,
	})
	if err != nil {
		return serviceError("submit check-in", err), nil, nil
	}
	return toolJSON(checkIn)
}

func (t *Tools) GetCheckIn(ctx context.Context, _ *mcp.CallToolRequest, input CheckInInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.CheckInID) == "" {
		return toolError("checkin_id is required"), nil, nil
	}
	checkIn, err := t.Service.GetCheckIn(ctx, input.CheckInID)
	if err != nil {
		return serviceError("get check-in", err), nil, nil
	}
	return toolJSON(checkIn)
}

func serviceError(action string, err error) *mcp.CallToolResult {
	return toolError("%s: failed to %s: %v", services.Code(err), action, err)
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

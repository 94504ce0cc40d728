package mcpserver

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"reverie/internal/api"
)

// Version is reported to MCP clients during initialization.
const Version = "0.1.0"

// New creates an MCP server with all dream tools registered.
func New(svc api.Service) *mcp.Server {
	t := &Tools{Service: svc}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "reverie",
		Version: Version,
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_dream",
		Description: "Fetch a dream with its segments, transcript and stage artifacts",
	}, t.GetDream)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "finish_dream",
		Description: "Close a recording session and wait for the summary (blocks up to the finish timeout)",
	}, t.FinishDream)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "generate_stage",
		Description: "Generate one stage (summary, analysis, expanded_analysis, questions, image, video); force regenerates a completed stage",
	}, t.GenerateStage)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "recover_dream",
		Description: "Recover a stuck dream by consolidating or re-transcribing its segments",
	}, t.RecoverDream)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "submit_checkin",
		Description: "Submit a mood check-in; the insight is generated in the background",
	}, t.SubmitCheckIn)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_checkin",
		Description: "Fetch a check-in and the status of its insight",
	}, t.GetCheckIn)

	return srv
}

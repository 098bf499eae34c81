// Package tools assembles the agent's tool catalog.
package tools

import (
	"context"

	"github.com/ChamsBouzaiene/kea/internal/engine"
	"github.com/ChamsBouzaiene/kea/internal/eventlog"
	"github.com/ChamsBouzaiene/kea/internal/tools/delegate"
	"github.com/ChamsBouzaiene/kea/internal/tools/execution"
	"github.com/ChamsBouzaiene/kea/internal/tools/filesystem"
	"github.com/ChamsBouzaiene/kea/internal/tools/reasoning"
	"github.com/ChamsBouzaiene/kea/internal/tools/search"
)

// Deps carries the shared infrastructure tools may need. LLM and Model
// are only required when the delegate tool is wanted.
type Deps struct {
	WorkDir  string
	Store    *eventlog.Store
	Searcher *eventlog.Searcher
	LLM      engine.LLMClient
	Model    string
	// RecordMarker is the owning agent's append path for system markers;
	// tools must not write to the parent thread's log behind the agent.
	RecordMarker func(ctx context.Context, marker eventlog.SystemMarkerData) error
}

// NewToolRegistry builds the full catalog for one thread. Read-only tools
// carry AlwaysAllow; mutating and executing tools go through the gate.
func NewToolRegistry(threadID string, deps Deps) engine.ToolRegistry {
	reg := baseRegistry(threadID, deps)

	if deps.LLM != nil {
		// Sub-agents get the base catalog only; delegation does not nest.
		reg["delegate"] = delegate.New(threadID, delegate.Config{
			Store:        deps.Store,
			Searcher:     deps.Searcher,
			LLM:          deps.LLM,
			Model:        deps.Model,
			Tools:        baseRegistry(threadID, deps),
			RecordMarker: deps.RecordMarker,
		})
	}

	return reg
}

func baseRegistry(threadID string, deps Deps) engine.ToolRegistry {
	reg := make(engine.ToolRegistry)

	reg["read_file"] = filesystem.NewReadFileTool(deps.WorkDir)
	reg["list_files"] = filesystem.NewListFilesTool(deps.WorkDir)
	reg["write_file"] = filesystem.NewWriteFileTool(deps.WorkDir)
	reg["delete_file"] = filesystem.NewDeleteFileTool(deps.WorkDir)

	reg["grep"] = search.NewGrepTool(deps.WorkDir)
	if deps.Searcher != nil {
		reg["history_search"] = search.NewHistorySearchTool(deps.Searcher, threadID)
	}

	reg["run_cmd"] = execution.NewRunCmdTool(deps.WorkDir)

	reg["think"] = reasoning.NewThinkTool()

	return reg
}

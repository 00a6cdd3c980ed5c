package hooks

import (
	"context"

	"github.com/tarsy-run/tarsy/pkg/events"
	"github.com/tarsy-run/tarsy/pkg/history"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// Bind wires a Manager's four registries to concrete persist/broadcast
// hooks at process start (spec.md §4.2, §4.10 design note, component
// C10). Grounded on the teacher's cmd/tarsy/main.go construction style:
// explicit constructors wired together by hand, no DI framework, no
// reflection.
func Bind(mgr *Manager, store history.Store, pub *events.Publisher) {
	mgr.LLM.Register(&historyLLMHook{store: store})
	mgr.LLM.Register(&broadcastLLMHook{pub: pub})

	mgr.MCPCall.Register(&historyMCPHook{store: store})
	mgr.MCPCall.Register(&broadcastMCPHook{pub: pub})

	mgr.MCPList.Register(&broadcastMCPListHook{pub: pub})

	mgr.Stage.Register(&historyStageHook{store: store})
	mgr.Stage.Register(&broadcastStageHook{pub: pub})
}

// --- history-persisting hooks (spec.md §4.2) ---

type historyLLMHook struct{ store history.Store }

func (h *historyLLMHook) Name() string { return "history.llm_interaction" }

func (h *historyLLMHook) Execute(ctx context.Context, i models.LLMInteraction) error {
	_, err := h.store.StoreLLMInteraction(ctx, i)
	return err
}

type historyMCPHook struct{ store history.Store }

func (h *historyMCPHook) Name() string { return "history.mcp_interaction" }

func (h *historyMCPHook) Execute(ctx context.Context, i models.MCPInteraction) error {
	_, err := h.store.StoreMCPInteraction(ctx, i)
	return err
}

// historyStageHook branches on started_at_us to decide create-vs-update,
// exactly as spec.md §4.2 specifies: "if None, call create_stage_execution
// and accept the returned execution_id; otherwise call
// update_stage_execution". Operates on the caller's own row (see Manager's
// Stage field doc) so the generated execution_id is visible after Trigger
// returns.
type historyStageHook struct{ store history.Store }

func (h *historyStageHook) Name() string { return "history.stage_execution" }

func (h *historyStageHook) Execute(ctx context.Context, row *models.StageExecution) error {
	if row.IsNew() {
		_, err := h.store.CreateStageExecution(ctx, row)
		return err
	}
	_, err := h.store.UpdateStageExecution(ctx, row)
	return err
}

// --- broadcast hooks (spec.md §4.9 dual-channel wiring into C1) ---

type broadcastLLMHook struct{ pub *events.Publisher }

func (h *broadcastLLMHook) Name() string { return "broadcast.llm_interaction" }

func (h *broadcastLLMHook) Execute(ctx context.Context, i models.LLMInteraction) error {
	h.pub.PublishLLMInteraction(ctx, i)
	return nil
}

type broadcastMCPHook struct{ pub *events.Publisher }

func (h *broadcastMCPHook) Name() string { return "broadcast.mcp_interaction" }

func (h *broadcastMCPHook) Execute(ctx context.Context, i models.MCPInteraction) error {
	h.pub.PublishMCPInteraction(ctx, i)
	return nil
}

type broadcastMCPListHook struct{ pub *events.Publisher }

func (h *broadcastMCPListHook) Name() string { return "broadcast.mcp_tool_list" }

func (h *broadcastMCPListHook) Execute(ctx context.Context, i models.MCPInteraction) error {
	h.pub.PublishMCPToolList(ctx, i.SessionID, i.AvailableTools)
	return nil
}

type broadcastStageHook struct{ pub *events.Publisher }

func (h *broadcastStageHook) Name() string { return "broadcast.stage_execution" }

func (h *broadcastStageHook) Execute(ctx context.Context, row *models.StageExecution) error {
	payload := events.StageEventPayload{
		SessionID:   row.SessionID,
		ExecutionID: row.ExecutionID,
		StageName:   row.StageName,
		StageIndex:  row.StageIndex,
		Status:      string(row.Status),
	}
	if row.Status.IsTerminal() {
		h.pub.PublishStageCompleted(ctx, payload)
	} else {
		h.pub.PublishStageStarted(ctx, payload)
	}
	return nil
}

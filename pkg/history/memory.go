package history

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// MemoryStore is an in-memory Store implementation. Used in tests and when
// history_database_url selects "in test mode auto-selects in-memory"
// (spec.md §6).
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*models.AlertSession
	stages    map[string]*models.StageExecution
	llm       []models.LLMInteraction
	mcp       []models.MCPInteraction
	retry     RetryConfig
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.AlertSession),
		stages:   make(map[string]*models.StageExecution),
		retry:    DefaultRetryConfig(),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateSession(ctx context.Context, s *models.AlertSession) (string, error) {
	var id string
	err := withRetryOnce(ctx, func(ctx context.Context) error {
		if s.SessionID == "" {
			s.SessionID = uuid.New().String()
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		cp := *s
		m.sessions[s.SessionID] = &cp
		id = s.SessionID
		return nil
	})
	return id, err
}

func (m *MemoryStore) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, errMsg, finalAnalysis string) (bool, error) {
	var ok bool
	err := withRetry(ctx, m.retry, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		s, found := m.sessions[sessionID]
		if !found {
			ok = false
			return nil
		}
		s.Status = status
		if errMsg != "" {
			s.ErrorMessage = errMsg
		}
		if finalAnalysis != "" {
			s.FinalAnalysis = finalAnalysis
		}
		ok = true
		return nil
	})
	return ok, err
}

func (m *MemoryStore) UpdateSessionProgress(ctx context.Context, sessionID string, stageIndex int, stageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, found := m.sessions[sessionID]
	if !found {
		return false, nil
	}
	idx := stageIndex
	s.CurrentStageIdx = &idx
	s.CurrentStageID = stageID
	return true, nil
}

func (m *MemoryStore) CreateStageExecution(ctx context.Context, row *models.StageExecution) (string, error) {
	var id string
	err := withRetry(ctx, m.retry, func(ctx context.Context) error {
		if row.ExecutionID == "" {
			row.ExecutionID = uuid.New().String()
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		cp := *row
		m.stages[row.ExecutionID] = &cp
		id = row.ExecutionID
		return nil
	})
	return id, err
}

func (m *MemoryStore) UpdateStageExecution(ctx context.Context, row *models.StageExecution) (bool, error) {
	var ok bool
	err := withRetry(ctx, m.retry, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, found := m.stages[row.ExecutionID]; !found {
			ok = false
			return nil
		}
		cp := *row
		m.stages[row.ExecutionID] = &cp
		ok = true
		return nil
	})
	return ok, err
}

func (m *MemoryStore) StoreLLMInteraction(ctx context.Context, i models.LLMInteraction) (bool, error) {
	var ok bool
	err := withRetry(ctx, m.retry, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.llm = append(m.llm, i)
		ok = true
		return nil
	})
	return ok, err
}

func (m *MemoryStore) StoreMCPInteraction(ctx context.Context, i models.MCPInteraction) (bool, error) {
	var ok bool
	err := withRetry(ctx, m.retry, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.mcp = append(m.mcp, i)
		ok = true
		return nil
	})
	return ok, err
}

func (m *MemoryStore) GetSessionsList(ctx context.Context, filter SessionFilter, page, pageSize int) (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.AlertSession
	for _, s := range m.sessions {
		if filter.Status != "" && string(s.Status) != filter.Status {
			continue
		}
		if filter.AgentType != "" && s.AgentType != filter.AgentType {
			continue
		}
		if filter.AlertType != "" && s.AlertType != filter.AlertType {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(s.AlertID), strings.ToLower(filter.Search)) {
			continue
		}
		matched = append(matched, *s)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartedAtUs > matched[j].StartedAtUs })

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	total := len(matched)
	totalPages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return Page{
		Sessions:   matched[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		TotalItems: total,
	}, nil
}

func (m *MemoryStore) GetSessionWithStages(ctx context.Context, sessionID string) (*SessionDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	var stages []models.StageExecution
	for _, st := range m.stages {
		if st.SessionID == sessionID {
			stages = append(stages, *st)
		}
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].StageIndex < stages[j].StageIndex })

	cp := *s
	return &SessionDetail{Session: &cp, Stages: stages}, nil
}

func (m *MemoryStore) GetStageExecution(ctx context.Context, executionID string) (*models.StageExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stages[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *MemoryStore) GetParallelStageChildren(ctx context.Context, parentExecutionID string) ([]models.StageExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var children []models.StageExecution
	for _, st := range m.stages {
		if st.ParentStageExecutionID != nil && *st.ParentStageExecutionID == parentExecutionID {
			children = append(children, *st)
		}
	}
	return children, nil
}

func (m *MemoryStore) GetLLMInteractions(ctx context.Context, sessionID string) ([]models.LLMInteraction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.LLMInteraction
	for _, i := range m.llm {
		if i.SessionID == sessionID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetMCPInteractions(ctx context.Context, sessionID string) ([]models.MCPInteraction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MCPInteraction
	for _, i := range m.mcp {
		if i.SessionID == sessionID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListNonTerminalSessions(ctx context.Context) ([]models.AlertSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AlertSession
	for _, s := range m.sessions {
		if !s.Status.IsTerminal() {
			out = append(out, *s)
		}
	}
	return out, nil
}

// CleanupOrphanedSessions marks any non-terminal session failed with
// "Backend was restarted - session terminated unexpectedly" (spec.md
// §4.3/§4.10). Idempotent.
func (m *MemoryStore) CleanupOrphanedSessions(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	now := nowUs()
	for _, s := range m.sessions {
		if !s.Status.IsTerminal() {
			s.Status = models.SessionFailed
			s.ErrorMessage = "Backend was restarted - session terminated unexpectedly"
			s.CompletedAtUs = &now
			count++
		}
	}
	return count, nil
}

func nowUs() int64 { return time.Now().UnixMicro() }

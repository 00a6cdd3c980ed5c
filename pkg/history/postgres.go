package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tarsy-run/tarsy/pkg/models"
)

// PostgresStore is the durable Store implementation backed by
// github.com/jackc/pgx/v5 (the teacher's driver). Schema is applied via
// history/migrations using golang-migrate.
type PostgresStore struct {
	pool  *pgxpool.Pool
	retry RetryConfig
}

// NewPostgresStore wraps an already-connected pool. Pool sizing
// (postgres_pool_size, max_overflow, pool_timeout, pool_recycle,
// pool_pre_ping) is configured by the caller when constructing pool
// (spec.md §6); see config.DatabaseConfig.PoolConfig.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, retry: DefaultRetryConfig()}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) CreateSession(ctx context.Context, s *models.AlertSession) (string, error) {
	var id string
	err := withRetryOnce(ctx, func(ctx context.Context) error {
		row := p.pool.QueryRow(ctx, `
			INSERT INTO alert_sessions
				(alert_id, alert_type, agent_type, alert_data, status, started_at_us, chain_id, chain_definition)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING session_id`,
			s.AlertID, s.AlertType, s.AgentType, s.AlertData, s.Status, s.StartedAtUs, s.ChainID, s.ChainDefinition)
		return row.Scan(&id)
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (p *PostgresStore) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, errMsg, finalAnalysis string) (bool, error) {
	var ok bool
	err := withRetry(ctx, p.retry, func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
			UPDATE alert_sessions
			SET status=$2, error_message=NULLIF($3,''), final_analysis=NULLIF($4,''),
				completed_at_us = CASE WHEN $2 IN ('completed','failed','timed_out','cancelled') THEN EXTRACT(EPOCH FROM now())*1000000 ELSE completed_at_us END
			WHERE session_id=$1`,
			sessionID, status, errMsg, finalAnalysis)
		if err != nil {
			return err
		}
		ok = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("update session status: %w", err)
	}
	return ok, nil
}

func (p *PostgresStore) UpdateSessionProgress(ctx context.Context, sessionID string, stageIndex int, stageID string) (bool, error) {
	var ok bool
	err := withRetry(ctx, p.retry, func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
			UPDATE alert_sessions SET current_stage_idx=$2, current_stage_id=$3 WHERE session_id=$1`,
			sessionID, stageIndex, stageID)
		if err != nil {
			return err
		}
		ok = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("update session progress: %w", err)
	}
	return ok, nil
}

func (p *PostgresStore) CreateStageExecution(ctx context.Context, row *models.StageExecution) (string, error) {
	err := withRetry(ctx, p.retry, func(ctx context.Context) error {
		r := p.pool.QueryRow(ctx, `
			INSERT INTO stage_executions
				(session_id, parent_stage_execution_id, stage_name, stage_index, stage_id, agent, status, started_at_us, stage_output)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING execution_id`,
			row.SessionID, row.ParentStageExecutionID, row.StageName, row.StageIndex, row.StageID,
			row.Agent, row.Status, row.StartedAtUs, row.StageOutput)
		return r.Scan(&row.ExecutionID)
	})
	if err != nil {
		return "", fmt.Errorf("create stage execution: %w", err)
	}
	return row.ExecutionID, nil
}

func (p *PostgresStore) UpdateStageExecution(ctx context.Context, row *models.StageExecution) (bool, error) {
	var ok bool
	err := withRetry(ctx, p.retry, func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
			UPDATE stage_executions
			SET status=$2, started_at_us=$3, completed_at_us=$4, paused_at_us=$5,
				duration_ms=$6, error_message=NULLIF($7,''), stage_output=$8
			WHERE execution_id=$1`,
			row.ExecutionID, row.Status, row.StartedAtUs, row.CompletedAtUs, row.PausedAtUs,
			row.DurationMs, row.ErrorMessage, row.StageOutput)
		if err != nil {
			return err
		}
		ok = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("update stage execution: %w", err)
	}
	return ok, nil
}

func (p *PostgresStore) StoreLLMInteraction(ctx context.Context, i models.LLMInteraction) (bool, error) {
	var ok bool
	err := withRetry(ctx, p.retry, func(ctx context.Context) error {
		conv, mErr := json.Marshal(i.Conversation)
		if mErr != nil {
			return mErr
		}
		_, err := p.pool.Exec(ctx, `
			INSERT INTO llm_interactions
				(interaction_id, session_id, stage_execution_id, request_id, provider, model_name,
				 conversation, timestamp_us, start_time_us, end_time_us, duration_ms, success,
				 error_message, step_description, interaction_type)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			i.InteractionID, i.SessionID, i.StageExecutionID, i.RequestID, i.Provider, i.ModelName,
			conv, i.TimestampUs, i.StartTimeUs, i.EndTimeUs, i.DurationMs, i.Success,
			i.ErrorMessage, i.StepDescription, i.InteractionType)
		if err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("store llm interaction: %w", err)
	}
	return ok, nil
}

func (p *PostgresStore) StoreMCPInteraction(ctx context.Context, i models.MCPInteraction) (bool, error) {
	var ok bool
	err := withRetry(ctx, p.retry, func(ctx context.Context) error {
		tools, mErr := json.Marshal(i.AvailableTools)
		if mErr != nil {
			return mErr
		}
		_, err := p.pool.Exec(ctx, `
			INSERT INTO mcp_interactions
				(interaction_id, session_id, stage_execution_id, request_id, server_name,
				 communication_type, tool_name, tool_arguments, tool_result, available_tools,
				 start_time_us, end_time_us, duration_ms, success, error_message, step_description)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			i.InteractionID, i.SessionID, i.StageExecutionID, i.RequestID, i.ServerName,
			i.CommunicationType, i.ToolName, i.ToolArguments, i.ToolResult, tools,
			i.StartTimeUs, i.EndTimeUs, i.DurationMs, i.Success, i.ErrorMessage, i.StepDescription)
		if err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("store mcp interaction: %w", err)
	}
	return ok, nil
}

func (p *PostgresStore) GetSessionsList(ctx context.Context, filter SessionFilter, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	where := "WHERE TRUE"
	args := []any{}
	argn := 1
	add := func(cond string, val any) {
		where += fmt.Sprintf(" AND %s $%d", cond, argn)
		args = append(args, val)
		argn++
	}
	if filter.Status != "" {
		add("status =", filter.Status)
	}
	if filter.AgentType != "" {
		add("agent_type =", filter.AgentType)
	}
	if filter.AlertType != "" {
		add("alert_type =", filter.AlertType)
	}
	if filter.Search != "" {
		add("alert_id ILIKE", "%"+filter.Search+"%")
	}

	var total int
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM alert_sessions "+where, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count sessions: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT session_id, alert_id, alert_type, agent_type, alert_data, status,
			started_at_us, completed_at_us, error_message, final_analysis, chain_id, chain_definition
		FROM alert_sessions %s
		ORDER BY started_at_us DESC
		LIMIT $%d OFFSET $%d`, where, argn, argn+1), args...)
	if err != nil {
		return Page{}, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.AlertSession
	for rows.Next() {
		var s models.AlertSession
		if err := rows.Scan(&s.SessionID, &s.AlertID, &s.AlertType, &s.AgentType, &s.AlertData, &s.Status,
			&s.StartedAtUs, &s.CompletedAtUs, &s.ErrorMessage, &s.FinalAnalysis, &s.ChainID, &s.ChainDefinition); err != nil {
			return Page{}, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return Page{
		Sessions:   sessions,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
		TotalItems: total,
	}, rows.Err()
}

func (p *PostgresStore) GetSessionWithStages(ctx context.Context, sessionID string) (*SessionDetail, error) {
	var s models.AlertSession
	err := p.pool.QueryRow(ctx, `
		SELECT session_id, alert_id, alert_type, agent_type, alert_data, status,
			started_at_us, completed_at_us, error_message, final_analysis, chain_id, chain_definition,
			current_stage_idx, COALESCE(current_stage_id,'')
		FROM alert_sessions WHERE session_id=$1`, sessionID).
		Scan(&s.SessionID, &s.AlertID, &s.AlertType, &s.AgentType, &s.AlertData, &s.Status,
			&s.StartedAtUs, &s.CompletedAtUs, &s.ErrorMessage, &s.FinalAnalysis, &s.ChainID, &s.ChainDefinition,
			&s.CurrentStageIdx, &s.CurrentStageID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT execution_id, session_id, parent_stage_execution_id, stage_name, stage_index, stage_id,
			agent, status, started_at_us, completed_at_us, paused_at_us, duration_ms, error_message, stage_output
		FROM stage_executions WHERE session_id=$1 ORDER BY stage_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get stages: %w", err)
	}
	defer rows.Close()

	var stages []models.StageExecution
	for rows.Next() {
		var st models.StageExecution
		if err := rows.Scan(&st.ExecutionID, &st.SessionID, &st.ParentStageExecutionID, &st.StageName,
			&st.StageIndex, &st.StageID, &st.Agent, &st.Status, &st.StartedAtUs, &st.CompletedAtUs,
			&st.PausedAtUs, &st.DurationMs, &st.ErrorMessage, &st.StageOutput); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, st)
	}

	return &SessionDetail{Session: &s, Stages: stages}, rows.Err()
}

func (p *PostgresStore) GetStageExecution(ctx context.Context, executionID string) (*models.StageExecution, error) {
	var st models.StageExecution
	err := p.pool.QueryRow(ctx, `
		SELECT execution_id, session_id, parent_stage_execution_id, stage_name, stage_index, stage_id,
			agent, status, started_at_us, completed_at_us, paused_at_us, duration_ms, error_message, stage_output
		FROM stage_executions WHERE execution_id=$1`, executionID).
		Scan(&st.ExecutionID, &st.SessionID, &st.ParentStageExecutionID, &st.StageName,
			&st.StageIndex, &st.StageID, &st.Agent, &st.Status, &st.StartedAtUs, &st.CompletedAtUs,
			&st.PausedAtUs, &st.DurationMs, &st.ErrorMessage, &st.StageOutput)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get stage execution: %w", err)
	}
	return &st, nil
}

func (p *PostgresStore) GetParallelStageChildren(ctx context.Context, parentExecutionID string) ([]models.StageExecution, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT execution_id, session_id, parent_stage_execution_id, stage_name, stage_index, stage_id,
			agent, status, started_at_us, completed_at_us, paused_at_us, duration_ms, error_message, stage_output
		FROM stage_executions WHERE parent_stage_execution_id=$1`, parentExecutionID)
	if err != nil {
		return nil, fmt.Errorf("get parallel children: %w", err)
	}
	defer rows.Close()

	var out []models.StageExecution
	for rows.Next() {
		var st models.StageExecution
		if err := rows.Scan(&st.ExecutionID, &st.SessionID, &st.ParentStageExecutionID, &st.StageName,
			&st.StageIndex, &st.StageID, &st.Agent, &st.Status, &st.StartedAtUs, &st.CompletedAtUs,
			&st.PausedAtUs, &st.DurationMs, &st.ErrorMessage, &st.StageOutput); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetLLMInteractions(ctx context.Context, sessionID string) ([]models.LLMInteraction, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT interaction_id, session_id, stage_execution_id, request_id, provider, model_name,
			conversation, timestamp_us, start_time_us, end_time_us, duration_ms, success,
			error_message, step_description, interaction_type
		FROM llm_interactions WHERE session_id=$1 ORDER BY timestamp_us`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get llm interactions: %w", err)
	}
	defer rows.Close()

	var out []models.LLMInteraction
	for rows.Next() {
		var i models.LLMInteraction
		var conv []byte
		if err := rows.Scan(&i.InteractionID, &i.SessionID, &i.StageExecutionID, &i.RequestID, &i.Provider,
			&i.ModelName, &conv, &i.TimestampUs, &i.StartTimeUs, &i.EndTimeUs, &i.DurationMs, &i.Success,
			&i.ErrorMessage, &i.StepDescription, &i.InteractionType); err != nil {
			return nil, fmt.Errorf("scan llm interaction: %w", err)
		}
		_ = json.Unmarshal(conv, &i.Conversation)
		out = append(out, i)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetMCPInteractions(ctx context.Context, sessionID string) ([]models.MCPInteraction, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT interaction_id, session_id, stage_execution_id, request_id, server_name,
			communication_type, tool_name, tool_arguments, tool_result, available_tools,
			start_time_us, end_time_us, duration_ms, success, error_message, step_description
		FROM mcp_interactions WHERE session_id=$1 ORDER BY start_time_us`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get mcp interactions: %w", err)
	}
	defer rows.Close()

	var out []models.MCPInteraction
	for rows.Next() {
		var i models.MCPInteraction
		var tools []byte
		if err := rows.Scan(&i.InteractionID, &i.SessionID, &i.StageExecutionID, &i.RequestID, &i.ServerName,
			&i.CommunicationType, &i.ToolName, &i.ToolArguments, &i.ToolResult, &tools,
			&i.StartTimeUs, &i.EndTimeUs, &i.DurationMs, &i.Success, &i.ErrorMessage, &i.StepDescription); err != nil {
			return nil, fmt.Errorf("scan mcp interaction: %w", err)
		}
		_ = json.Unmarshal(tools, &i.AvailableTools)
		out = append(out, i)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListNonTerminalSessions(ctx context.Context) ([]models.AlertSession, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT session_id, alert_id, alert_type, agent_type, alert_data, status,
			started_at_us, completed_at_us, error_message, final_analysis, chain_id, chain_definition
		FROM alert_sessions WHERE status IN ('pending','in_progress','paused')`)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal sessions: %w", err)
	}
	defer rows.Close()

	var out []models.AlertSession
	for rows.Next() {
		var s models.AlertSession
		if err := rows.Scan(&s.SessionID, &s.AlertID, &s.AlertType, &s.AgentType, &s.AlertData, &s.Status,
			&s.StartedAtUs, &s.CompletedAtUs, &s.ErrorMessage, &s.FinalAnalysis, &s.ChainID, &s.ChainDefinition); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CleanupOrphanedSessions marks every non-terminal session failed
// (spec.md §4.10, §8 scenario S7). Idempotent: a repeat call affects zero
// rows because the WHERE clause excludes already-terminal sessions.
func (p *PostgresStore) CleanupOrphanedSessions(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE alert_sessions
		SET status='failed',
			error_message='Backend was restarted - session terminated unexpectedly',
			completed_at_us = EXTRACT(EPOCH FROM now())*1000000
		WHERE status IN ('pending','in_progress','paused')`)
	if err != nil {
		return 0, fmt.Errorf("cleanup orphaned sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers while the engine writes progress.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

var _ Repository = (*SQLiteStore)(nil)

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS cases (
		case_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		high_activity INTEGER NOT NULL DEFAULT 0,
		primary_enabled INTEGER NOT NULL DEFAULT 1,
		secondary_enabled INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS evidence (
		case_id TEXT NOT NULL,
		evidence_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (case_id, evidence_id),
		FOREIGN KEY (case_id) REFERENCES cases(case_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS transcript_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		case_id TEXT NOT NULL,
		role TEXT NOT NULL,
		author_id TEXT,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL,
		payload_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_case_created ON transcript_messages(case_id, created_at);

	CREATE TABLE IF NOT EXISTS rate_limit_states (
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		interruptions_count INTEGER NOT NULL DEFAULT 0,
		window_start INTEGER NOT NULL,
		last_interruption_at INTEGER,
		PRIMARY KEY (session_id, role)
	);
	CREATE INDEX IF NOT EXISTS idx_rate_limit_window ON rate_limit_states(window_start);

	CREATE TABLE IF NOT EXISTS task_definitions (
		task_id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		progress_type TEXT NOT NULL,
		target_value REAL NOT NULL,
		event_type TEXT NOT NULL DEFAULT '',
		dependencies_json TEXT NOT NULL DEFAULT '[]',
		repeatable INTEGER NOT NULL DEFAULT 1,
		reset_cycle TEXT NOT NULL DEFAULT 'weekly',
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS task_progress (
		task_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		cycle_id TEXT NOT NULL,
		progress_value REAL NOT NULL DEFAULT 0,
		completion_percentage REAL NOT NULL DEFAULT 0,
		is_completed INTEGER NOT NULL DEFAULT 0,
		is_failed INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (task_id, user_id, cycle_id)
	);
	CREATE INDEX IF NOT EXISTS idx_task_progress_user_cycle ON task_progress(user_id, cycle_id);

	CREATE TABLE IF NOT EXISTS task_cycles (
		cycle_id TEXT PRIMARY KEY,
		starts_at INTEGER NOT NULL,
		ends_at INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 0
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetCase retrieves a case with its evidence.
func (s *SQLiteStore) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	query := `
		SELECT case_id, title, summary, high_activity, primary_enabled,
		       secondary_enabled, created_at, updated_at
		FROM cases WHERE case_id = ?`

	var c domain.Case
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, caseID).Scan(
		&c.ID, &c.Title, &c.Summary, &c.HighActivity, &c.PrimaryEnabled,
		&c.SecondaryEnabled, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan case row: %w", err)
	}
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT evidence_id, title, description FROM evidence
		WHERE case_id = ? ORDER BY position ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query evidence: %w", err)
	}
	defer closeRows(rows, "evidence")

	for rows.Next() {
		var e domain.Evidence
		if err := rows.Scan(&e.ID, &e.Title, &e.Description); err != nil {
			return nil, fmt.Errorf("scan evidence row: %w", err)
		}
		c.Evidence = append(c.Evidence, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence: %w", err)
	}
	return &c, nil
}

// UpsertCase creates or updates a case and replaces its evidence list.
func (s *SQLiteStore) UpsertCase(ctx context.Context, c *domain.Case) error {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("case id is required")
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	return shared.WithConflictRetry(ctx, s.retry, "upsert case", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin case tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO cases (case_id, title, summary, high_activity, primary_enabled,
			                   secondary_enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(case_id) DO UPDATE SET
				title = excluded.title,
				summary = excluded.summary,
				high_activity = excluded.high_activity,
				primary_enabled = excluded.primary_enabled,
				secondary_enabled = excluded.secondary_enabled,
				updated_at = excluded.updated_at`,
			c.ID, c.Title, c.Summary, c.HighActivity, c.PrimaryEnabled,
			c.SecondaryEnabled, toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert case: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM evidence WHERE case_id = ?`, c.ID); err != nil {
			return fmt.Errorf("clear evidence: %w", err)
		}
		for i, e := range c.Evidence {
			if strings.TrimSpace(e.ID) == "" {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO evidence (case_id, evidence_id, position, title, description)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(case_id, evidence_id) DO UPDATE SET
					position = excluded.position,
					title = excluded.title,
					description = excluded.description`,
				c.ID, e.ID, i, e.Title, e.Description,
			)
			if err != nil {
				return fmt.Errorf("insert evidence %s: %w", e.ID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit case: %w", err)
		}
		return nil
	})
}

// AppendTranscriptMessage stores a transcript message.
func (s *SQLiteStore) AppendTranscriptMessage(ctx context.Context, msg *domain.TranscriptMessage) error {
	if msg == nil || strings.TrimSpace(msg.CaseID) == "" {
		return fmt.Errorf("case id is required")
	}
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.MessageType == "" {
		msg.MessageType = domain.MessageChat
	}

	var payloadJSON interface{}
	if len(msg.Payload) > 0 {
		data, err := json.Marshal(msg.Payload)
		if err != nil {
			return fmt.Errorf("marshal message payload: %w", err)
		}
		payloadJSON = string(data)
	}

	return shared.WithConflictRetry(ctx, s.retry, "append transcript message", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO transcript_messages (message_id, case_id, role, author_id, content,
			                                 message_type, payload_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO NOTHING`,
			msg.ID, msg.CaseID, string(msg.Role), nullString(msg.AuthorID), msg.Content,
			string(msg.MessageType), payloadJSON, toMillis(msg.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert transcript message: %w", err)
		}
		return nil
	})
}

// RecentTranscriptMessages returns the newest messages in chronological order.
func (s *SQLiteStore) RecentTranscriptMessages(ctx context.Context, caseID string, limit int) ([]domain.TranscriptMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, case_id, role, author_id, content, message_type, payload_json, created_at
		FROM transcript_messages WHERE case_id = ?
		ORDER BY created_at DESC, seq DESC LIMIT ?`, caseID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer closeRows(rows, "transcript")

	var out []domain.TranscriptMessage
	for rows.Next() {
		var msg domain.TranscriptMessage
		var role, msgType string
		var authorID, payloadJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.CaseID, &role, &authorID, &msg.Content, &msgType, &payloadJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.MessageType = domain.MessageType(msgType)
		msg.AuthorID = authorID.String
		msg.CreatedAt = fromMillis(createdAt)
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &msg.Payload); err != nil {
				slog.Warn("dropping undecodable message payload", "message_id", msg.ID, "error", err)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountHumanMessagesSince counts non-agent, non-system messages since a time.
func (s *SQLiteStore) CountHumanMessagesSince(ctx context.Context, caseID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transcript_messages
		WHERE case_id = ? AND created_at >= ? AND role NOT IN (?, ?, ?, ?)`,
		caseID, toMillis(since),
		string(domain.RoleProsecutor), string(domain.RoleDefense), string(domain.RoleClerk), string(domain.RoleSystem),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent messages: %w", err)
	}
	return n, nil
}

// GetRateLimitState retrieves throttle state for a session/role pair.
func (s *SQLiteStore) GetRateLimitState(ctx context.Context, sessionID string, role domain.Role) (*domain.RateLimitState, error) {
	var st domain.RateLimitState
	var roleStr string
	var windowStart int64
	var lastAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, role, interruptions_count, window_start, last_interruption_at
		FROM rate_limit_states WHERE session_id = ? AND role = ?`, sessionID, string(role),
	).Scan(&st.SessionID, &roleStr, &st.InterruptionsCount, &windowStart, &lastAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan rate limit state: %w", err)
	}
	st.Role = domain.Role(roleStr)
	st.WindowStart = fromMillis(windowStart)
	if lastAt.Valid {
		st.LastInterruptionAt = fromMillis(lastAt.Int64)
	}
	return &st, nil
}

// ResetRateLimitWindow zeroes the counter and starts a new window at now.
func (s *SQLiteStore) ResetRateLimitWindow(ctx context.Context, sessionID string, role domain.Role, now time.Time) error {
	return shared.WithConflictRetry(ctx, s.retry, "reset rate limit window", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO rate_limit_states (session_id, role, interruptions_count, window_start, last_interruption_at)
			VALUES (?, ?, 0, ?, NULL)
			ON CONFLICT(session_id, role) DO UPDATE SET
				interruptions_count = 0,
				window_start = excluded.window_start`,
			sessionID, string(role), toMillis(now),
		)
		if err != nil {
			return fmt.Errorf("reset rate limit window: %w", err)
		}
		return nil
	})
}

// IncrementRateLimit atomically records one interruption.
func (s *SQLiteStore) IncrementRateLimit(ctx context.Context, sessionID string, role domain.Role, now time.Time, window time.Duration) error {
	nowMs := toMillis(now)
	cutoff := toMillis(now.Add(-window))
	return shared.WithConflictRetry(ctx, s.retry, "increment rate limit", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO rate_limit_states (session_id, role, interruptions_count, window_start, last_interruption_at)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(session_id, role) DO UPDATE SET
				interruptions_count = CASE WHEN rate_limit_states.window_start < ?
					THEN 1 ELSE rate_limit_states.interruptions_count + 1 END,
				window_start = CASE WHEN rate_limit_states.window_start < ?
					THEN excluded.window_start ELSE rate_limit_states.window_start END,
				last_interruption_at = excluded.last_interruption_at`,
			sessionID, string(role), nowMs, nowMs, cutoff, cutoff,
		)
		if err != nil {
			return fmt.Errorf("increment rate limit: %w", err)
		}
		return nil
	})
}

// ListRateLimitStates returns every role's throttle state for a session.
func (s *SQLiteStore) ListRateLimitStates(ctx context.Context, sessionID string) ([]domain.RateLimitState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, role, interruptions_count, window_start, last_interruption_at
		FROM rate_limit_states WHERE session_id = ? ORDER BY role ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query rate limit states: %w", err)
	}
	defer closeRows(rows, "rate limit states")

	var out []domain.RateLimitState
	for rows.Next() {
		var st domain.RateLimitState
		var roleStr string
		var windowStart int64
		var lastAt sql.NullInt64
		if err := rows.Scan(&st.SessionID, &roleStr, &st.InterruptionsCount, &windowStart, &lastAt); err != nil {
			return nil, fmt.Errorf("scan rate limit state: %w", err)
		}
		st.Role = domain.Role(roleStr)
		st.WindowStart = fromMillis(windowStart)
		if lastAt.Valid {
			st.LastInterruptionAt = fromMillis(lastAt.Int64)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rate limit states: %w", err)
	}
	return out, nil
}

// DeleteStaleRateLimitStates removes states whose window started before cutoff.
func (s *SQLiteStore) DeleteStaleRateLimitStates(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := shared.WithConflictRetry(ctx, s.retry, "delete stale rate limits", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_states WHERE window_start < ?`, toMillis(cutoff))
		if err != nil {
			return fmt.Errorf("delete stale rate limits: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// ListActiveTaskDefinitions returns all active catalog entries.
func (s *SQLiteStore) ListActiveTaskDefinitions(ctx context.Context) ([]domain.TaskDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, title, tier, category, progress_type, target_value, event_type,
		       dependencies_json, repeatable, reset_cycle, active
		FROM task_definitions WHERE active = 1 ORDER BY task_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query task definitions: %w", err)
	}
	defer closeRows(rows, "task definitions")

	var out []domain.TaskDefinition
	for rows.Next() {
		var def domain.TaskDefinition
		var tier, progressType, eventType, depsJSON string
		if err := rows.Scan(&def.ID, &def.Title, &tier, &def.Category, &progressType, &def.TargetValue,
			&eventType, &depsJSON, &def.Repeatable, &def.ResetCycle, &def.Active); err != nil {
			return nil, fmt.Errorf("scan task definition: %w", err)
		}
		def.Tier = domain.Tier(tier)
		def.ProgressType = domain.ProgressType(progressType)
		def.EventType = domain.EventType(eventType)
		if err := json.Unmarshal([]byte(depsJSON), &def.Dependencies); err != nil {
			slog.Warn("ignoring undecodable task dependencies", "task_id", def.ID, "error", err)
			def.Dependencies = nil
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task definitions: %w", err)
	}
	return out, nil
}

// UpsertTaskDefinition creates or updates a catalog entry.
func (s *SQLiteStore) UpsertTaskDefinition(ctx context.Context, def *domain.TaskDefinition) error {
	if def == nil || strings.TrimSpace(def.ID) == "" {
		return fmt.Errorf("task id is required")
	}
	if !def.ProgressType.Valid() {
		return fmt.Errorf("invalid progress type %q", def.ProgressType)
	}
	if def.TargetValue <= 0 {
		return fmt.Errorf("target value must be > 0")
	}
	deps := def.Dependencies
	if deps == nil {
		deps = []string{}
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}

	return shared.WithConflictRetry(ctx, s.retry, "upsert task definition", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO task_definitions (task_id, title, tier, category, progress_type, target_value,
			                              event_type, dependencies_json, repeatable, reset_cycle, active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(task_id) DO UPDATE SET
				title = excluded.title,
				tier = excluded.tier,
				category = excluded.category,
				progress_type = excluded.progress_type,
				target_value = excluded.target_value,
				event_type = excluded.event_type,
				dependencies_json = excluded.dependencies_json,
				repeatable = excluded.repeatable,
				reset_cycle = excluded.reset_cycle,
				active = excluded.active`,
			def.ID, def.Title, string(def.Tier), def.Category, string(def.ProgressType), def.TargetValue,
			string(def.EventType), string(depsJSON), def.Repeatable, def.ResetCycle, def.Active,
		)
		if err != nil {
			return fmt.Errorf("upsert task definition: %w", err)
		}
		return nil
	})
}

// GetTaskProgress retrieves progress keyed by (task, user, cycle).
func (s *SQLiteStore) GetTaskProgress(ctx context.Context, taskID, userID, cycleID string) (*domain.TaskProgress, error) {
	var p domain.TaskProgress
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id, user_id, cycle_id, progress_value, completion_percentage,
		       is_completed, is_failed, updated_at
		FROM task_progress WHERE task_id = ? AND user_id = ? AND cycle_id = ?`,
		taskID, userID, cycleID,
	).Scan(&p.TaskID, &p.UserID, &p.CycleID, &p.ProgressValue, &p.CompletionPercentage,
		&p.IsCompleted, &p.IsFailed, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task progress: %w", err)
	}
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

// UpsertTaskProgress creates or updates progress keyed by natural identity.
func (s *SQLiteStore) UpsertTaskProgress(ctx context.Context, p *domain.TaskProgress) error {
	if p == nil || p.TaskID == "" || p.UserID == "" || p.CycleID == "" {
		return fmt.Errorf("task, user and cycle ids are required")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	return shared.WithConflictRetry(ctx, s.retry, "upsert task progress", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO task_progress (task_id, user_id, cycle_id, progress_value, completion_percentage,
			                           is_completed, is_failed, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(task_id, user_id, cycle_id) DO UPDATE SET
				progress_value = excluded.progress_value,
				completion_percentage = excluded.completion_percentage,
				is_completed = MAX(task_progress.is_completed, excluded.is_completed),
				is_failed = excluded.is_failed,
				updated_at = excluded.updated_at`,
			p.TaskID, p.UserID, p.CycleID, p.ProgressValue, p.CompletionPercentage,
			p.IsCompleted, p.IsFailed, toMillis(p.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert task progress: %w", err)
		}
		return nil
	})
}

// ListTaskProgress returns a user's progress rows for one cycle.
func (s *SQLiteStore) ListTaskProgress(ctx context.Context, userID, cycleID string) ([]domain.TaskProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, user_id, cycle_id, progress_value, completion_percentage,
		       is_completed, is_failed, updated_at
		FROM task_progress WHERE user_id = ? AND cycle_id = ?`, userID, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query task progress: %w", err)
	}
	defer closeRows(rows, "task progress")

	var out []domain.TaskProgress
	for rows.Next() {
		var p domain.TaskProgress
		var updatedAt int64
		if err := rows.Scan(&p.TaskID, &p.UserID, &p.CycleID, &p.ProgressValue, &p.CompletionPercentage,
			&p.IsCompleted, &p.IsFailed, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan task progress: %w", err)
		}
		p.UpdatedAt = fromMillis(updatedAt)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task progress: %w", err)
	}
	return out, nil
}

// HasCompletedTask reports whether the user completed the task in any cycle.
func (s *SQLiteStore) HasCompletedTask(ctx context.Context, taskID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_progress WHERE task_id = ? AND user_id = ? AND is_completed = 1`,
		taskID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count completed task: %w", err)
	}
	return n > 0, nil
}

// GetActiveCycle returns the active cycle covering now.
func (s *SQLiteStore) GetActiveCycle(ctx context.Context, now time.Time) (*domain.Cycle, error) {
	var c domain.Cycle
	var startsAt, endsAt int64
	nowMs := toMillis(now)
	err := s.db.QueryRowContext(ctx, `
		SELECT cycle_id, starts_at, ends_at, active FROM task_cycles
		WHERE active = 1 AND starts_at <= ? AND ends_at > ?
		ORDER BY starts_at DESC LIMIT 1`, nowMs, nowMs,
	).Scan(&c.ID, &startsAt, &endsAt, &c.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan active cycle: %w", err)
	}
	c.StartsAt = fromMillis(startsAt)
	c.EndsAt = fromMillis(endsAt)
	return &c, nil
}

// UpsertCycle creates or updates a cycle.
func (s *SQLiteStore) UpsertCycle(ctx context.Context, c *domain.Cycle) error {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("cycle id is required")
	}
	if !c.EndsAt.After(c.StartsAt) {
		return fmt.Errorf("cycle must end after it starts")
	}
	return shared.WithConflictRetry(ctx, s.retry, "upsert cycle", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin cycle tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if c.Active {
			if _, err := tx.ExecContext(ctx, `UPDATE task_cycles SET active = 0 WHERE cycle_id <> ?`, c.ID); err != nil {
				return fmt.Errorf("deactivate cycles: %w", err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_cycles (cycle_id, starts_at, ends_at, active)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(cycle_id) DO UPDATE SET
				starts_at = excluded.starts_at,
				ends_at = excluded.ends_at,
				active = excluded.active`,
			c.ID, toMillis(c.StartsAt), toMillis(c.EndsAt), c.Active,
		)
		if err != nil {
			return fmt.Errorf("upsert cycle: %w", err)
		}
		return tx.Commit()
	})
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// newID returns a UUIDv7 identifier, falling back to a random UUIDv4.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}

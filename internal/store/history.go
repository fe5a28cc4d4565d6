// Package store persists request history to SQLite.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/voxd/internal/agent"
	"github.com/nextlevelbuilder/voxd/internal/queue"
)

// HistoryStore records terminal requests and their turn traces. It
// implements queue.History.
type HistoryStore struct {
	db *sqlx.DB
}

type requestRow struct {
	ID         string `db:"id"`
	Input      string `db:"input"`
	Status     string `db:"status"`
	Outcome    string `db:"outcome"`
	Answer     string `db:"answer"`
	Reason     string `db:"reason"`
	EnqueuedAt int64  `db:"enqueued_at"`
	StartedAt  int64  `db:"started_at"`
	FinishedAt int64  `db:"finished_at"`
}

type turnRow struct {
	RequestID     string `db:"request_id"`
	Seq           int    `db:"seq"`
	Observation   string `db:"observation"`
	Plan          string `db:"plan"` // JSON array
	Action        string `db:"action"`
	Response      string `db:"response"`
	DelegateName  string `db:"delegate_name"`
	DelegateArgs  string `db:"delegate_args"` // JSON object
	Result        string `db:"result"`
	ResultIsError bool   `db:"result_is_error"`
}

// Open opens (or creates) the history database at path.
func Open(path string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &HistoryStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("history store opened", "path", path)
	return s, nil
}

func (s *HistoryStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			input TEXT NOT NULL,
			status TEXT NOT NULL,
			outcome TEXT NOT NULL DEFAULT '',
			answer TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			enqueued_at INTEGER NOT NULL,
			started_at INTEGER NOT NULL DEFAULT 0,
			finished_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_enqueued ON requests(enqueued_at)`,
		`CREATE TABLE IF NOT EXISTS turns (
			request_id TEXT NOT NULL REFERENCES requests(id),
			seq INTEGER NOT NULL,
			observation TEXT NOT NULL DEFAULT '',
			plan TEXT NOT NULL DEFAULT '[]',
			action TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			delegate_name TEXT NOT NULL DEFAULT '',
			delegate_args TEXT NOT NULL DEFAULT '{}',
			result TEXT NOT NULL DEFAULT '',
			result_is_error INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (request_id, seq)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

// SaveRequest persists a terminal request and its full trace atomically.
func (s *HistoryStore) SaveRequest(ctx context.Context, req *queue.Request) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := requestRow{
		ID:         req.ID,
		Input:      req.Input,
		Status:     string(req.Status),
		Outcome:    string(req.Outcome),
		Answer:     req.Answer,
		Reason:     req.Reason,
		EnqueuedAt: req.EnqueuedAt.UnixMilli(),
	}
	if !req.StartedAt.IsZero() {
		row.StartedAt = req.StartedAt.UnixMilli()
	}
	if !req.FinishedAt.IsZero() {
		row.FinishedAt = req.FinishedAt.UnixMilli()
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO requests
			(id, input, status, outcome, answer, reason, enqueued_at, started_at, finished_at)
		VALUES
			(:id, :input, :status, :outcome, :answer, :reason, :enqueued_at, :started_at, :finished_at)`,
		row)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE request_id = ?`, req.ID); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}

	for i, turn := range req.Trace {
		tr := turnRow{
			RequestID:     req.ID,
			Seq:           i,
			Observation:   turn.Observation,
			Action:        string(turn.Action),
			Response:      turn.Response,
			Result:        turn.Result,
			ResultIsError: turn.ResultIsError,
			Plan:          "[]",
			DelegateArgs:  "{}",
		}
		if len(turn.Plan) > 0 {
			if b, err := json.Marshal(turn.Plan); err == nil {
				tr.Plan = string(b)
			}
		}
		if turn.Call != nil {
			tr.DelegateName = turn.Call.Name
			if b, err := json.Marshal(turn.Call.Args); err == nil {
				tr.DelegateArgs = string(b)
			}
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO turns
				(request_id, seq, observation, plan, action, response, delegate_name, delegate_args, result, result_is_error)
			VALUES
				(:request_id, :seq, :observation, :plan, :action, :response, :delegate_name, :delegate_args, :result, :result_is_error)`,
			tr)
		if err != nil {
			return fmt.Errorf("insert turn %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// GetRequest loads one persisted request with its trace.
func (s *HistoryStore) GetRequest(ctx context.Context, id string) (*queue.Request, error) {
	var row requestRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM requests WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}

	var turnRows []turnRow
	if err := s.db.SelectContext(ctx, &turnRows, `SELECT * FROM turns WHERE request_id = ? ORDER BY seq`, id); err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}

	req := &queue.Request{
		ID:         row.ID,
		Input:      row.Input,
		Status:     queue.Status(row.Status),
		Outcome:    agent.Outcome(row.Outcome),
		Answer:     row.Answer,
		Reason:     row.Reason,
		EnqueuedAt: time.UnixMilli(row.EnqueuedAt).UTC(),
	}
	if row.StartedAt > 0 {
		req.StartedAt = time.UnixMilli(row.StartedAt).UTC()
	}
	if row.FinishedAt > 0 {
		req.FinishedAt = time.UnixMilli(row.FinishedAt).UTC()
	}

	for _, tr := range turnRows {
		turn := agent.Turn{
			Observation:   tr.Observation,
			Action:        agent.Action(tr.Action),
			Response:      tr.Response,
			Result:        tr.Result,
			ResultIsError: tr.ResultIsError,
		}
		if tr.Plan != "" && tr.Plan != "[]" {
			json.Unmarshal([]byte(tr.Plan), &turn.Plan)
		}
		if tr.DelegateName != "" {
			call := &agent.Call{Name: tr.DelegateName, Args: map[string]interface{}{}}
			json.Unmarshal([]byte(tr.DelegateArgs), &call.Args)
			turn.Call = call
		}
		req.Trace = append(req.Trace, turn)
	}
	return req, nil
}

// Recent returns the newest requests without traces, newest first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]*queue.Request, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []requestRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM requests ORDER BY enqueued_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent: %w", err)
	}

	out := make([]*queue.Request, 0, len(rows))
	for _, row := range rows {
		out = append(out, &queue.Request{
			ID:         row.ID,
			Input:      row.Input,
			Status:     queue.Status(row.Status),
			Outcome:    agent.Outcome(row.Outcome),
			Answer:     row.Answer,
			Reason:     row.Reason,
			EnqueuedAt: time.UnixMilli(row.EnqueuedAt).UTC(),
		})
	}
	return out, nil
}

// Close closes the database.
func (s *HistoryStore) Close() error { return s.db.Close() }

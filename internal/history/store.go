package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/approvd/approvd/internal/approval"
	"github.com/approvd/approvd/pkg/protocol"
)

// store persists terminal decisions in SQLite.
type store struct {
	db *sql.DB
}

// Record implements approval.Recorder. A repeat insert for the same
// request ID is replaced rather than rejected; delivery retries should
// not error.
func (s *store) Record(ctx context.Context, rec approval.Record) error {
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return fmt.Errorf("history: marshal answers: %w", err)
	}
	if rec.Answers == nil {
		answers = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO decisions
			(request_id, kind, session_id, tool_name, fingerprint,
			 allow, expired, reason, actor, answers, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID,
		string(rec.Kind),
		rec.SessionID,
		rec.ToolName,
		rec.Fingerprint,
		boolToInt(rec.Allow),
		boolToInt(rec.Expired),
		rec.Reason,
		rec.Actor,
		string(answers),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.ResolvedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("history: insert decision: %w", err)
	}
	return nil
}

// Recent returns up to limit decisions, newest first.
func (s *store) Recent(ctx context.Context, limit int) ([]approval.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, kind, session_id, tool_name, fingerprint,
		       allow, expired, reason, actor, answers, created_at, resolved_at
		FROM decisions
		ORDER BY resolved_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// BySession returns all decisions for one agent session, oldest first.
func (s *store) BySession(ctx context.Context, sessionID string) ([]approval.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, kind, session_id, tool_name, fingerprint,
		       allow, expired, reason, actor, answers, created_at, resolved_at
		FROM decisions
		WHERE session_id = ?
		ORDER BY resolved_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history: query session %s: %w", sessionID, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Prune deletes decisions resolved before cutoff and reports how many
// rows were removed.
func (s *store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM decisions WHERE resolved_at < ?",
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: prune rows affected: %w", err)
	}
	return n, nil
}

func scanRecords(rows *sql.Rows) ([]approval.Record, error) {
	var out []approval.Record
	for rows.Next() {
		var (
			rec                   approval.Record
			kind                  string
			allow, expired        int
			answers               string
			createdAt, resolvedAt string
		)
		if err := rows.Scan(
			&rec.RequestID, &kind, &rec.SessionID, &rec.ToolName, &rec.Fingerprint,
			&allow, &expired, &rec.Reason, &rec.Actor, &answers, &createdAt, &resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("history: scan decision: %w", err)
		}
		rec.Kind = protocol.Kind(kind)
		rec.Allow = allow != 0
		rec.Expired = expired != 0
		if answers != "" && answers != "{}" {
			if err := json.Unmarshal([]byte(answers), &rec.Answers); err != nil {
				return nil, fmt.Errorf("history: unmarshal answers for %s: %w", rec.RequestID, err)
			}
		}
		var err error
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("history: parse created_at for %s: %w", rec.RequestID, err)
		}
		if rec.ResolvedAt, err = time.Parse(time.RFC3339Nano, resolvedAt); err != nil {
			return nil, fmt.Errorf("history: parse resolved_at for %s: %w", rec.RequestID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

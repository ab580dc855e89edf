package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Writer appends access decisions to access_log. Audit failures are
// logged by callers and never fail the request being audited.
type Writer struct {
	DB auditDB
}

// Record is one authorization decision or analysis request. Role and
// ownership denials keep their distinct reason codes here even though
// both answer 403 to the client.
type Record struct {
	DecisionID string    `json:"decision_id"`
	UserID     int64     `json:"user_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Decision   string    `json:"decision"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

func (w *Writer) Append(ctx context.Context, rec Record) error {
	_, err := w.DB.Exec(ctx, `
		INSERT INTO access_log (decision_id, user_id, method, path, decision, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.DecisionID, rec.UserID, rec.Method, rec.Path, rec.Decision, rec.Reason, rec.CreatedAt)
	return err
}

// Recent returns the newest records, newest first.
func (w *Writer) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := w.DB.Query(ctx, `
		SELECT decision_id, user_id, method, path, decision, reason, created_at
		FROM access_log ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.DecisionID, &rec.UserID, &rec.Method, &rec.Path, &rec.Decision, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

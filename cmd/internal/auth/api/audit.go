package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// AuditEntry is one security-relevant event.
type AuditEntry struct {
	Action    string
	UserID    string
	SessionID string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
	At        time.Time
}

// Auditor records audit entries. Failures are logged, never returned to clients.
type Auditor interface {
	Record(ctx context.Context, e AuditEntry) error
}

// LogAuditor writes audit entries to the structured log.
type LogAuditor struct {
	Log *slog.Logger
}

func (a LogAuditor) Record(ctx context.Context, e AuditEntry) error {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"action", e.Action, "at", e.At}
	if e.UserID != "" {
		attrs = append(attrs, "user_id", e.UserID)
	}
	if e.SessionID != "" {
		attrs = append(attrs, "session_id", e.SessionID)
	}
	if e.IP != nil {
		attrs = append(attrs, "ip", e.IP.String())
	}
	if len(e.Meta) > 0 {
		attrs = append(attrs, "meta", e.Meta)
	}
	log.InfoContext(ctx, "auth.audit", attrs...)
	return nil
}

// Execer is the subset of pgxpool.Pool the Postgres auditor needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresAuditor appends entries to warden.audit_log.
type PostgresAuditor struct {
	db Execer
}

// NewPostgresAuditor returns an Auditor backed by db.
func NewPostgresAuditor(db Execer) *PostgresAuditor {
	return &PostgresAuditor{db: db}
}

func (a *PostgresAuditor) Record(ctx context.Context, e AuditEntry) error {
	var ipVal any
	if e.IP != nil {
		ipVal = e.IP.String()
	}

	var metaVal any
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			metaVal = string(b)
		}
	}

	_, err := a.db.Exec(ctx, `
		INSERT INTO warden.audit_log (
			user_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, trimOrNil(e.UserID), trimOrNil(e.SessionID), e.Action, e.At, ipVal, trimOrNil(e.UserAgent), metaVal)
	return err
}

// audit fills in request context and records the entry.
func (h *Handler) audit(ctx context.Context, rc requestContext, e AuditEntry) {
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		return
	}
	e.IP = rc.ip
	e.UserAgent = rc.userAgent
	if e.At.IsZero() {
		e.At = h.now()
	}
	if err := h.auditor.Record(ctx, e); err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", e.Action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

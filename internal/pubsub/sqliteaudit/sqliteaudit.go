// Package sqliteaudit wraps a pubsub.Transport with a durable publish
// log, backed by the pure-Go modernc.org/sqlite driver. It is a
// decorator: every call is forwarded to the wrapped Transport
// unchanged, with a row appended to the audit table around each
// publish. Kept deliberately outside PubSub's correctness boundary
// (spec.md's out-of-scope transport collaborator) — a failed audit
// write never blocks or fails the underlying publish.
package sqliteaudit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/collabsync/internal/pubsub"
)

// Transport decorates an inner pubsub.Transport, recording every
// publish to a SQLite table before delegating.
type Transport struct {
	inner  pubsub.Transport
	db     *sql.DB
	logger *slog.Logger
}

// New opens (creating if necessary) a SQLite database at dbPath and
// wraps inner with an audit-logging decorator.
func New(inner pubsub.Transport, dbPath string, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	t := &Transport{inner: inner, db: db, logger: logger}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return t, nil
}

func (t *Transport) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS publish_audit (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		channel    TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		published_at TEXT NOT NULL
	);
	`
	_, err := t.db.Exec(schema)
	return err
}

// Close closes the audit database. Does not close the wrapped transport.
func (t *Transport) Close() error {
	return t.db.Close()
}

// OnMessage forwards to the wrapped transport unchanged.
func (t *Transport) OnMessage(handler func(channel string, data []byte)) {
	t.inner.OnMessage(handler)
}

// Subscribe forwards to the wrapped transport unchanged.
func (t *Transport) Subscribe(ctx context.Context, channel string, cb func(err error)) {
	t.inner.Subscribe(ctx, channel, cb)
}

// Unsubscribe forwards to the wrapped transport unchanged.
func (t *Transport) Unsubscribe(channel string) {
	t.inner.Unsubscribe(channel)
}

// Publish records an audit row, then forwards to the wrapped
// transport. An audit-write failure is logged but never prevents the
// underlying publish from proceeding.
func (t *Transport) Publish(ctx context.Context, channel string, data []byte, cb func(err error)) {
	if _, err := t.db.ExecContext(ctx,
		`INSERT INTO publish_audit (channel, size_bytes, published_at) VALUES (?, ?, ?)`,
		channel, len(data), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		t.logger.Warn("sqliteaudit: failed to record publish", "channel", channel, "error", err)
	}

	t.inner.Publish(ctx, channel, data, cb)
}

// Record is one audit row: the channel published to, the payload size
// in bytes, and when the publish was recorded.
type Record struct {
	Channel     string
	SizeBytes   int
	PublishedAt time.Time
}

// Recent returns the most recent audit rows, newest first, up to limit.
func (t *Transport) Recent(limit int) ([]Record, error) {
	rows, err := t.db.Query(
		`SELECT channel, size_bytes, published_at FROM publish_audit ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts string
		if err := rows.Scan(&r.Channel, &r.SizeBytes, &ts); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		r.PublishedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

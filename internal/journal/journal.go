// Package journal 把已提交的金库事件追加写入 SQLite，供 API 查询历史。
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/betbot/ogvault/internal/metrics"
	"github.com/betbot/ogvault/internal/vault"
)

// Entry 一条日志记录。Seq 单调递增。
type Entry struct {
	Seq int64 `json:"seq"`
	vault.Event
}

// Query 查询条件。BeforeSeq 为 0 表示从最新开始。
type Query struct {
	Limit     int
	Type      vault.EventType
	BeforeSeq int64
}

type Journal struct {
	db *sql.DB
}

func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS vault_events (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  ts TEXT NOT NULL,
  data_json TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_vault_events_type ON vault_events(event_type, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Append 追加事件；重复的事件 ID 会被忽略。
func (j *Journal) Append(ctx context.Context, ev vault.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
INSERT OR IGNORE INTO vault_events (event_id, event_type, ts, data_json)
VALUES (?,?,?,?)
`, ev.ID, string(ev.Type), ev.Timestamp.UTC().Format(time.RFC3339Nano), string(data))
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	metrics.JournalWrites.Inc()
	return nil
}

// List 按 seq 倒序返回事件。
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 50
	}
	where := `WHERE 1=1`
	args := []any{}
	if q.Type != "" {
		where += ` AND event_type=?`
		args = append(args, string(q.Type))
	}
	if q.BeforeSeq > 0 {
		where += ` AND seq<?`
		args = append(args, q.BeforeSeq)
	}
	args = append(args, q.Limit)

	rows, err := j.db.QueryContext(ctx, `
SELECT seq, event_id, event_type, ts, data_json
FROM vault_events
`+where+`
ORDER BY seq DESC
LIMIT ?
`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			typ  string
			ts   string
			data string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &typ, &ts, &data); err != nil {
			return nil, err
		}
		e.Type = vault.EventType(typ)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count 事件总数。
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM vault_events`).Scan(&n)
	return n, err
}

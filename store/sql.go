package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/transitlab/dispatchsim/sim"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	scenario TEXT NOT NULL,
	seed BIGINT NOT NULL,
	policy TEXT NOT NULL,
	started_at TEXT NOT NULL,
	summary TEXT
);
CREATE TABLE IF NOT EXISTS kpi_steps (
	run_id TEXT NOT NULL,
	tick INTEGER NOT NULL,
	step TEXT NOT NULL,
	PRIMARY KEY (run_id, tick)
);
`

// ErrNotFound 运行不存在
var ErrNotFound = errors.New("run not found")

// 定宽时间格式，保证TEXT列的字典序即时间序
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLStore database/sql之上的存储实现，sqlite与postgres共用
type SQLStore struct {
	db *sql.DB
	pg bool
}

// Open 按DSN打开存储并建表。postgres://开头走pgx，
// 其余一律按sqlite文件（或:memory:）处理
func Open(dsn string) (*SQLStore, error) {
	pg := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
	var (
		db  *sql.DB
		err error
	)
	if pg {
		db, err = sql.Open("pgx", dsn)
	} else {
		db, err = sql.Open("sqlite", dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", dsn, err)
	}
	if !pg && strings.Contains(dsn, ":memory:") {
		// 内存库跨连接不共享
		db.SetMaxOpenConns(1)
	}
	s := &SQLStore{db: db, pg: pg}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}
	log.Infof("store opened: %s", driverName(pg))
	return s, nil
}

func driverName(pg bool) string {
	if pg {
		return "postgres"
	}
	return "sqlite"
}

// 把?占位符依次改写为$1..$n，两种方言共用一份SQL
func (s *SQLStore) q(query string) string {
	if !s.pg {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) SaveRun(ctx context.Context, rec *RunRecord) error {
	var summary any
	if rec.Summary != nil {
		data, err := json.Marshal(rec.Summary)
		if err != nil {
			return err
		}
		summary = string(data)
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO runs (id, scenario, seed, policy, started_at, summary) VALUES (?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.Scenario, rec.Seed, rec.Policy,
		rec.StartedAt.UTC().Format(timeLayout), summary,
	)
	return err
}

func (s *SQLStore) UpdateSummary(ctx context.Context, id string, sum *sim.RunSummary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE runs SET summary = ? WHERE id = ?`), string(data), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLStore) AppendSteps(ctx context.Context, runID string, steps []*sim.StepResult) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		s.q(`INSERT INTO kpi_steps (run_id, tick, step) VALUES (?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, st := range steps {
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, runID, st.Tick, string(data)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Run(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, scenario, seed, policy, started_at, summary FROM runs WHERE id = ?`), id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

func (s *SQLStore) Runs(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, scenario, seed, policy, started_at, summary FROM runs ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) Steps(ctx context.Context, runID string, fromTick, limit int) ([]*sim.StepResult, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT step FROM kpi_steps WHERE run_id = ? AND tick >= ? ORDER BY tick LIMIT ?`),
		runID, fromTick, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*sim.StepResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var st sim.StepResult
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return nil, err
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(r rowScanner) (*RunRecord, error) {
	var (
		rec       RunRecord
		startedAt string
		summary   sql.NullString
	)
	if err := r.Scan(&rec.ID, &rec.Scenario, &rec.Seed, &rec.Policy, &startedAt, &summary); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at %q: %w", startedAt, err)
	}
	rec.StartedAt = t
	if summary.Valid && summary.String != "" {
		var sum sim.RunSummary
		if err := json.Unmarshal([]byte(summary.String), &sum); err != nil {
			return nil, err
		}
		rec.Summary = &sum
	}
	return &rec, nil
}

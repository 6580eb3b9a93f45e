// 包 store 提供采集台账（SQLite）：记录每次运行与每个已抓取的页。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"hibot-harvest/internal/model"
)

// SQLite 封装 *sql.DB，基于 modernc.org/sqlite（纯 Go 实现）。
type SQLite struct {
	db *sql.DB
}

// OpenSQLite 打开 SQLite 数据库并执行自动迁移。
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// 多个 worker 并发记录页，单连接串行化写入
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// Reset 清空台账（不删除数据库文件）。
func (s *SQLite) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pages`); err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs`); err != nil {
		return fmt.Errorf("delete runs: %w", err)
	}
	return nil
}

// migrate 执行建表语句，保持幂等。
func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            start_date TEXT,
            end_date TEXT,
            page_size INTEGER,
            stop_page INTEGER,
            pages INTEGER DEFAULT 0,
            rows INTEGER DEFAULT 0,
            error TEXT,
            started_at TIMESTAMP,
            finished_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS pages (
            run_id TEXT,
            page INTEGER,
            items INTEGER,
            worker INTEGER,
            fetched_at TIMESTAMP,
            UNIQUE(run_id, page)
        );`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("exec migrate: %w", err)
		}
	}
	return nil
}

// StartRun 登记一次运行。
func (s *SQLite) StartRun(ctx context.Context, r model.Run) error {
	if r.ID == "" {
		return errors.New("run.id required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs(id, start_date, end_date, page_size, stop_page, started_at)
        VALUES(?,?,?,?,?,?)`,
		r.ID, r.StartDate, r.EndDate, r.PageSize, -1, nowOr(r.StartedAt))
	if err != nil {
		return fmt.Errorf("start run %s: %w", r.ID, err)
	}
	return nil
}

// RecordPage 记录一个已抓取的页；同一运行内重复的页号返回错误。
func (s *SQLite) RecordPage(ctx context.Context, p model.PageLog) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO pages(run_id, page, items, worker, fetched_at) VALUES(?,?,?,?,?)`,
		p.RunID, p.Page, p.Items, p.Worker, nowOr(p.FetchedAt))
	if err != nil {
		return fmt.Errorf("record page %d of run %s: %w", p.Page, p.RunID, err)
	}
	return nil
}

// FinishRun 写入运行结果；runErr 非空时记录错误信息。
func (s *SQLite) FinishRun(ctx context.Context, sum model.RunSummary, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET stop_page=?, pages=?, rows=?, error=?, finished_at=? WHERE id=?`,
		sum.StopPage, sum.PagesFetched, sum.RowsWritten, msg, nowOr(sum.Finished), sum.RunID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", sum.RunID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: not found", sum.RunID)
	}
	return nil
}

// ListRuns 按开始时间倒序返回最近 limit 次运行（limit<=0 表示全部）。
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, COALESCE(start_date,''), COALESCE(end_date,''), COALESCE(page_size,0),
        COALESCE(stop_page,-1), COALESCE(pages,0), COALESCE(rows,0), COALESCE(error,''), started_at, finished_at
        FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []model.Run
	for rows.Next() {
		var r model.Run
		var started, finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartDate, &r.EndDate, &r.PageSize, &r.StopPage, &r.Pages, &r.Rows, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan runs: %w", err)
		}
		if started.Valid {
			r.StartedAt = started.Time
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// ListPages 返回某次运行抓取过的页，按页号升序。
func (s *SQLite) ListPages(ctx context.Context, runID string) ([]model.PageLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, page, items, worker, fetched_at FROM pages WHERE run_id=? ORDER BY page`, runID)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()
	var out []model.PageLog
	for rows.Next() {
		var p model.PageLog
		var fetched sql.NullTime
		if err := rows.Scan(&p.RunID, &p.Page, &p.Items, &p.Worker, &fetched); err != nil {
			return nil, fmt.Errorf("scan pages: %w", err)
		}
		if fetched.Valid {
			p.FetchedAt = fetched.Time
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}

// Stats 汇总：运行数/失败数/页数/行数。
func (s *SQLite) Stats(ctx context.Context) (model.LedgerStats, error) {
	var st model.LedgerStats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1), COALESCE(SUM(rows),0) FROM runs`).Scan(&st.RunsTotal, &st.RowsTotal); err != nil {
		return st, fmt.Errorf("count runs: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM runs WHERE error IS NOT NULL AND error <> ''`).Scan(&st.RunsFailed); err != nil {
		return st, fmt.Errorf("count failed runs: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM pages`).Scan(&st.PagesTotal); err != nil {
		return st, fmt.Errorf("count pages: %w", err)
	}
	st.UpdatedAt = time.Now()
	return st, nil
}

// CleanOldRuns 删除 days 天前开始的运行及其页记录。
func (s *SQLite) CleanOldRuns(ctx context.Context, days int) error {
	if days <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
		return fmt.Errorf("clean old pages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff); err != nil {
		return fmt.Errorf("clean old runs: %w", err)
	}
	return nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	// 统一存 UTC，保证按字符串比较时间有效
	return t.UTC()
}

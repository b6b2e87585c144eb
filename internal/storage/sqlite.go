//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "promobot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error { return s.db.Close() }

const itemCols = `id, name, category, location, revenue, monthly_profit, profit_margin, promo_text,
	posted, posted_at, scheduled_at, skipped, err`

func scanItem(row interface{ Scan(...any) error }) (Item, error) {
	var (
		it        Item
		posted    int
		skipped   int
		postedAt  sql.NullString
		schedAt   sql.NullString
		errText   sql.NullString
	)
	err := row.Scan(&it.ID, &it.Name, &it.Category, &it.Location, &it.Revenue,
		&it.MonthlyProfit, &it.ProfitMargin, &it.PromoText,
		&posted, &postedAt, &schedAt, &skipped, &errText)
	if err != nil {
		return Item{}, err
	}
	it.Posted = posted != 0
	it.Skipped = skipped != 0
	it.Error = errText.String
	if t, ok := parseTS(postedAt); ok {
		it.PostedAt = &t
	}
	if t, ok := parseTS(schedAt); ok {
		it.ScheduledAt = &t
	}
	return it, nil
}

func parseTS(v sql.NullString) (time.Time, bool) {
	if !v.Valid || v.String == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func fmtTS(t time.Time) string { return t.Format(time.RFC3339Nano) }

func (s *sqliteStore) Items(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemCols+` FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Item(ctx context.Context, id int64) (Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemCols+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return it, err
}

func (s *sqliteStore) NextDue(ctx context.Context) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemCols+` FROM items
		 WHERE posted = 0 AND skipped = 0 AND (err IS NULL OR err = '')
		 ORDER BY id LIMIT 1`)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *sqliteStore) MarkPosted(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET posted = 1, posted_at = ?, err = NULL WHERE id = ? AND skipped = 0`,
		fmtTS(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Item(ctx, id); err != nil {
			return err
		}
		return ErrItemSkipped
	}
	return nil
}

func (s *sqliteStore) MarkFailed(ctx context.Context, id int64, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET err = ?, posted = 0, posted_at = NULL WHERE id = ?`, msg, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) MarkSkipped(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET skipped = 1, scheduled_at = NULL, err = NULL WHERE id = ? AND posted = 0`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Item(ctx, id); err != nil {
			return err
		}
		return ErrItemPosted
	}
	return nil
}

func (s *sqliteStore) SkipAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET skipped = 1, scheduled_at = NULL, err = NULL WHERE posted = 0 AND skipped = 0`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) ClearErrors(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET err = NULL WHERE err IS NOT NULL AND err != ''`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) Ingest(ctx context.Context, drafts []Draft) ([]Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	added := make([]Item, 0, len(drafts))
	for _, d := range drafts {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO items(name, category, location, revenue, monthly_profit, profit_margin, promo_text)
			 VALUES(?,?,?,?,?,?,?)`,
			d.Name, d.Category, d.Location, d.Revenue, d.MonthlyProfit, d.ProfitMargin, d.PromoText)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		added = append(added, Item{
			ID:            id,
			Name:          d.Name,
			Category:      d.Category,
			Location:      d.Location,
			Revenue:       d.Revenue,
			MonthlyProfit: d.MonthlyProfit,
			ProfitMargin:  d.ProfitMargin,
			PromoText:     d.PromoText,
		})
	}
	return added, tx.Commit()
}

func (s *sqliteStore) ApplySchedule(ctx context.Context, plan map[int64]time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE items SET scheduled_at = NULL`); err != nil {
		return err
	}
	for id, at := range plan {
		if _, err := tx.ExecContext(ctx,
			`UPDATE items SET scheduled_at = ? WHERE id = ?`, fmtTS(at), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Campaign(ctx context.Context) (*Campaign, error) {
	var (
		start, end string
		minutes    int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT start_at, end_at, interval_minutes FROM campaign WHERE id = 1`).
		Scan(&start, &end, &minutes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c := &Campaign{Interval: time.Duration(minutes) * time.Minute}
	if c.StartAt, err = time.Parse(time.RFC3339Nano, start); err != nil {
		return nil, fmt.Errorf("campaign start_at: %w", err)
	}
	if c.EndAt, err = time.Parse(time.RFC3339Nano, end); err != nil {
		return nil, fmt.Errorf("campaign end_at: %w", err)
	}
	return c, nil
}

func (s *sqliteStore) SaveCampaign(ctx context.Context, c Campaign) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaign(id, start_at, end_at, interval_minutes) VALUES(1,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET start_at=excluded.start_at, end_at=excluded.end_at,
		 interval_minutes=excluded.interval_minutes`,
		fmtTS(c.StartAt), fmtTS(c.EndAt), int64(c.Interval/time.Minute))
	return err
}

func (s *sqliteStore) PublishMark(ctx context.Context) (time.Time, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT last_at FROM publish_mark WHERE id = 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func (s *sqliteStore) SavePublishMark(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publish_mark(id, last_at) VALUES(1,?)
		 ON CONFLICT(id) DO UPDATE SET last_at=excluded.last_at`, fmtTS(at))
	return err
}

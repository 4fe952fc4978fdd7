// Package fixture is a small posyandu REST backend on SQLite. The demo
// command and the integration tests run the data layer against it; it is
// not the production backend.
package fixture

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/krisalay/posyandu-cache/posyandu"
)

var ErrNotFound = errors.New("fixture: not found")

const schema = `
CREATE TABLE IF NOT EXISTS posyandus (
	id integer primary key autoincrement,
	name text not null,
	address text not null default '',
	village text not null default '',
	district text not null default '',
	active integer not null default 1,
	created_at text not null
);
CREATE TABLE IF NOT EXISTS children (
	id integer primary key autoincrement,
	nik text not null default '',
	name text not null,
	gender text not null,
	birth_date text not null,
	parent_name text not null default '',
	posyandu_id integer not null
);
CREATE TABLE IF NOT EXISTS growth_records (
	id integer primary key autoincrement,
	child_id integer not null,
	measured_at text not null,
	weight_kg real not null,
	height_cm real not null,
	head_cm real not null default 0,
	z_score real not null,
	status text not null
);
CREATE TABLE IF NOT EXISTS users (
	id integer primary key autoincrement,
	name text not null,
	email text not null unique,
	role text not null,
	posyandu_id text not null default '',
	active integer not null default 1
);
`

// Store keeps the fixture data.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at dsn, e.g. ":memory:".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps an in-memory database alive and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, ErrNotFound
	}
	return n, nil
}

func formatID(n int64) string {
	return strconv.FormatInt(n, 10)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// ---------------- posyandus ----------------

func scanPosyandu(row interface{ Scan(...any) error }) (posyandu.Posyandu, error) {
	var (
		p       posyandu.Posyandu
		id      int64
		created string
	)
	if err := row.Scan(&id, &p.Name, &p.Address, &p.Village, &p.District, &p.Active, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, ErrNotFound
		}
		return p, err
	}
	p.ID = formatID(id)
	p.CreatedAt = parseTime(created)
	return p, nil
}

const posyanduCols = `id, name, address, village, district, active, created_at`

func (s *Store) ListPosyandus(ctx context.Context, status string) ([]posyandu.Posyandu, error) {
	q := `SELECT ` + posyanduCols + ` FROM posyandus`
	switch status {
	case "active":
		q += ` WHERE active = 1`
	case "inactive":
		q += ` WHERE active = 0`
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []posyandu.Posyandu{}
	for rows.Next() {
		p, err := scanPosyandu(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetPosyandu(ctx context.Context, id string) (posyandu.Posyandu, error) {
	n, err := parseID(id)
	if err != nil {
		return posyandu.Posyandu{}, err
	}
	return scanPosyandu(s.db.QueryRowContext(ctx, `SELECT `+posyanduCols+` FROM posyandus WHERE id = ?`, n))
}

func (s *Store) CreatePosyandu(ctx context.Context, in posyandu.PosyanduInput) (posyandu.Posyandu, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posyandus (name, address, village, district, active, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
		in.Name, in.Address, in.Village, in.District, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return posyandu.Posyandu{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return posyandu.Posyandu{}, err
	}
	return s.GetPosyandu(ctx, formatID(id))
}

func (s *Store) UpdatePosyandu(ctx context.Context, id string, in posyandu.PosyanduInput) (posyandu.Posyandu, error) {
	n, err := parseID(id)
	if err != nil {
		return posyandu.Posyandu{}, err
	}
	if err := s.execOne(ctx,
		`UPDATE posyandus SET name = ?, address = ?, village = ?, district = ? WHERE id = ?`,
		in.Name, in.Address, in.Village, in.District, n); err != nil {
		return posyandu.Posyandu{}, err
	}
	return s.GetPosyandu(ctx, id)
}

func (s *Store) SetPosyanduActive(ctx context.Context, id string, active bool) (posyandu.Posyandu, error) {
	n, err := parseID(id)
	if err != nil {
		return posyandu.Posyandu{}, err
	}
	if err := s.execOne(ctx, `UPDATE posyandus SET active = ? WHERE id = ?`, active, n); err != nil {
		return posyandu.Posyandu{}, err
	}
	return s.GetPosyandu(ctx, id)
}

// execOne runs a statement that must touch exactly one row.
func (s *Store) execOne(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------- children ----------------

const childCols = `id, nik, name, gender, birth_date, parent_name, posyandu_id`

func scanChild(row interface{ Scan(...any) error }) (posyandu.Child, error) {
	var (
		c          posyandu.Child
		id, pid    int64
		birth, gen string
	)
	if err := row.Scan(&id, &c.NIK, &c.Name, &gen, &birth, &c.ParentName, &pid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, ErrNotFound
		}
		return c, err
	}
	c.ID = formatID(id)
	c.PosyanduID = formatID(pid)
	c.Gender = posyandu.Gender(gen)
	c.BirthDate = parseTime(birth)
	return c, nil
}

func (s *Store) ListChildren(ctx context.Context, posyanduID string) ([]posyandu.Child, error) {
	q := `SELECT ` + childCols + ` FROM children`
	var args []any
	if posyanduID != "" {
		n, err := parseID(posyanduID)
		if err != nil {
			return []posyandu.Child{}, nil
		}
		q += ` WHERE posyandu_id = ?`
		args = append(args, n)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []posyandu.Child{}
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetChild(ctx context.Context, id string) (posyandu.Child, error) {
	n, err := parseID(id)
	if err != nil {
		return posyandu.Child{}, err
	}
	return scanChild(s.db.QueryRowContext(ctx, `SELECT `+childCols+` FROM children WHERE id = ?`, n))
}

func (s *Store) CreateChild(ctx context.Context, in posyandu.ChildInput) (posyandu.Child, error) {
	pid, err := parseID(in.PosyanduID)
	if err != nil {
		return posyandu.Child{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO children (nik, name, gender, birth_date, parent_name, posyandu_id) VALUES (?, ?, ?, ?, ?, ?)`,
		in.NIK, in.Name, string(in.Gender), in.BirthDate.UTC().Format(time.RFC3339), in.ParentName, pid)
	if err != nil {
		return posyandu.Child{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return posyandu.Child{}, err
	}
	return s.GetChild(ctx, formatID(id))
}

func (s *Store) UpdateChild(ctx context.Context, id string, in posyandu.ChildInput) (posyandu.Child, error) {
	n, err := parseID(id)
	if err != nil {
		return posyandu.Child{}, err
	}
	pid, err := parseID(in.PosyanduID)
	if err != nil {
		return posyandu.Child{}, err
	}
	if err := s.execOne(ctx,
		`UPDATE children SET nik = ?, name = ?, gender = ?, birth_date = ?, parent_name = ?, posyandu_id = ? WHERE id = ?`,
		in.NIK, in.Name, string(in.Gender), in.BirthDate.UTC().Format(time.RFC3339), in.ParentName, pid, n); err != nil {
		return posyandu.Child{}, err
	}
	return s.GetChild(ctx, id)
}

// ---------------- growth ----------------

func (s *Store) ListGrowth(ctx context.Context, childID string) ([]posyandu.GrowthRecord, error) {
	n, err := parseID(childID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, child_id, measured_at, weight_kg, height_cm, head_cm, z_score, status
		 FROM growth_records WHERE child_id = ? ORDER BY measured_at, id`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []posyandu.GrowthRecord{}
	for rows.Next() {
		var (
			r        posyandu.GrowthRecord
			id, cid  int64
			measured string
			status   string
		)
		if err := rows.Scan(&id, &cid, &measured, &r.WeightKg, &r.HeightCm, &r.HeadCm, &r.ZScore, &status); err != nil {
			return nil, err
		}
		r.ID = formatID(id)
		r.ChildID = formatID(cid)
		r.MeasuredAt = parseTime(measured)
		r.Status = posyandu.NutritionStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AddGrowth(ctx context.Context, childID string, r posyandu.GrowthRecord) (posyandu.GrowthRecord, error) {
	if _, err := s.GetChild(ctx, childID); err != nil {
		return r, err
	}
	cid, _ := parseID(childID)
	if r.MeasuredAt.IsZero() {
		r.MeasuredAt = time.Now()
	}
	if r.Status == "" {
		r.Status = posyandu.Classify(r.ZScore)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO growth_records (child_id, measured_at, weight_kg, height_cm, head_cm, z_score, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cid, r.MeasuredAt.UTC().Format(time.RFC3339), r.WeightKg, r.HeightCm, r.HeadCm, r.ZScore, string(r.Status))
	if err != nil {
		return r, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return r, err
	}
	r.ID = formatID(id)
	r.ChildID = childID
	return r, nil
}

// ---------------- users ----------------

func (s *Store) ListUsers(ctx context.Context, role string) ([]posyandu.User, error) {
	q := `SELECT id, name, email, role, posyandu_id, active FROM users`
	var args []any
	if role != "" {
		q += ` WHERE role = ?`
		args = append(args, role)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []posyandu.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(row interface{ Scan(...any) error }) (posyandu.User, error) {
	var (
		u    posyandu.User
		id   int64
		role string
	)
	if err := row.Scan(&id, &u.Name, &u.Email, &role, &u.PosyanduID, &u.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return u, ErrNotFound
		}
		return u, err
	}
	u.ID = formatID(id)
	u.Role = posyandu.Role(role)
	return u, nil
}

func (s *Store) getUser(ctx context.Context, id int64) (posyandu.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, role, posyandu_id, active FROM users WHERE id = ?`, id))
}

func (s *Store) CreateUser(ctx context.Context, in posyandu.UserInput) (posyandu.User, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, email, role, posyandu_id, active) VALUES (?, ?, ?, ?, 1)`,
		in.Name, in.Email, string(in.Role), in.PosyanduID)
	if err != nil {
		return posyandu.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return posyandu.User{}, err
	}
	return s.getUser(ctx, id)
}

func (s *Store) SetUserActive(ctx context.Context, id string, active bool) (posyandu.User, error) {
	n, err := parseID(id)
	if err != nil {
		return posyandu.User{}, err
	}
	if err := s.execOne(ctx, `UPDATE users SET active = ? WHERE id = ?`, active, n); err != nil {
		return posyandu.User{}, err
	}
	return s.getUser(ctx, n)
}

// ---------------- aggregates ----------------

// latestRows returns each child's most recent record within [from, before). Zero bounds are open.
func (s *Store) latestRows(ctx context.Context, posyanduID string, from, before time.Time) ([]posyandu.ReportRow, error) {
	children, err := s.ListChildren(ctx, posyanduID)
	if err != nil {
		return nil, err
	}

	rows := []posyandu.ReportRow{}
	for _, c := range children {
		records, err := s.ListGrowth(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		var latest *posyandu.GrowthRecord
		for i := range records {
			r := &records[i]
			if !from.IsZero() && r.MeasuredAt.Before(from) {
				continue
			}
			if !before.IsZero() && !r.MeasuredAt.Before(before) {
				continue
			}
			latest = r
		}
		if latest == nil {
			continue
		}
		rows = append(rows, posyandu.ReportRow{
			ChildID:  c.ID,
			Name:     c.Name,
			AgeMonth: c.AgeInMonths(latest.MeasuredAt),
			WeightKg: latest.WeightKg,
			HeightCm: latest.HeightCm,
			Status:   latest.Status,
		})
	}
	return rows, nil
}

func (s *Store) Dashboard(ctx context.Context, posyanduID string) (posyandu.DashboardSummary, error) {
	sum := posyandu.DashboardSummary{PosyanduID: posyanduID}

	all, err := s.ListPosyandus(ctx, "")
	if err != nil {
		return sum, err
	}
	for _, p := range all {
		if posyanduID != "" && p.ID != posyanduID {
			continue
		}
		sum.TotalPosyandu++
		if p.Active {
			sum.ActivePosyandu++
		}
	}

	children, err := s.ListChildren(ctx, posyanduID)
	if err != nil {
		return sum, err
	}
	sum.TotalChildren = len(children)

	cadres, err := s.ListUsers(ctx, string(posyandu.Kader))
	if err != nil {
		return sum, err
	}
	for _, u := range cadres {
		if u.Active && (posyanduID == "" || u.PosyanduID == posyanduID) {
			sum.TotalCadres++
		}
	}

	rows, err := s.latestRows(ctx, posyanduID, time.Time{}, time.Time{})
	if err != nil {
		return sum, err
	}
	sum.StatusCounts = posyandu.CountStatuses(rows)
	return sum, nil
}

// MonthlyReport builds the report of period "YYYY-MM".
func (s *Store) MonthlyReport(ctx context.Context, posyanduID, period string) (posyandu.MonthlyReport, error) {
	start, err := time.Parse("2006-01", period)
	if err != nil {
		return posyandu.MonthlyReport{}, fmt.Errorf("invalid period %q", period)
	}
	rows, err := s.latestRows(ctx, posyanduID, start, start.AddDate(0, 1, 0))
	if err != nil {
		return posyandu.MonthlyReport{}, err
	}
	return posyandu.MonthlyReport{
		PosyanduID:   posyanduID,
		Period:       period,
		Rows:         rows,
		StatusCounts: posyandu.CountStatuses(rows),
	}, nil
}

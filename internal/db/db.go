package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Check-in status values written by this service. The column itself is
// free text.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusDismissed = "dismissed"
)

// ErrIncompleteCheckIn is returned when a check-in is missing its category,
// time or message.
var ErrIncompleteCheckIn = errors.New("incomplete check-in")

// DB wraps a sql.DB connection to the SQLite database.
type DB struct {
	conn *sql.DB
}

// CheckIn is a scheduled reminder extracted from a conversation.
type CheckIn struct {
	EventID        int64
	MessageContent string
	CheckInTime    string // ISO-8601 as produced by the model, e.g. 2025-12-15T15:00:00
	Category       string
	CreatedAt      string
	Status         string
}

// Validate reports ErrIncompleteCheckIn when a required field is blank.
func (c *CheckIn) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Category) == "" {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(c.CheckInTime) == "" {
		missing = append(missing, "check_in_time")
	}
	if strings.TrimSpace(c.MessageContent) == "" {
		missing = append(missing, "message_content")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteCheckIn, strings.Join(missing, ", "))
	}
	return nil
}

// Open creates a new DB connection and runs all pending migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	d := &DB{conn: conn}
	if _, err := d.Migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for use by other packages if needed.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// --- Check-in Methods ---

const checkInColumns = `event_id, message_content, check_in_time, category, created_at, COALESCE(status, 'active')`

func scanCheckIn(scanner interface{ Scan(...any) error }, c *CheckIn) error {
	return scanner.Scan(&c.EventID, &c.MessageContent, &c.CheckInTime, &c.Category, &c.CreatedAt, &c.Status)
}

// InsertCheckIn stores a new active check-in and returns its event ID.
// An empty CreatedAt is stamped with the current time; an empty Status
// becomes active. Both are written back to the passed record.
func (d *DB) InsertCheckIn(ctx context.Context, c *CheckIn) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	if c.CreatedAt == "" {
		c.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if c.Status == "" {
		c.Status = StatusActive
	}

	res, err := d.conn.ExecContext(ctx,
		`INSERT INTO event_checkins (message_content, check_in_time, category, created_at, status)
		 VALUES (?, ?, ?, ?, ?)`,
		strings.TrimSpace(c.MessageContent), strings.TrimSpace(c.CheckInTime), strings.TrimSpace(c.Category), c.CreatedAt, c.Status,
	)
	if err != nil {
		return 0, fmt.Errorf("insert check-in: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert check-in id: %w", err)
	}
	c.EventID = id
	return id, nil
}

// GetCheckIn retrieves a single check-in by event ID. It returns nil, nil
// when no row matches.
func (d *DB) GetCheckIn(ctx context.Context, id int64) (*CheckIn, error) {
	c := &CheckIn{}
	row := d.conn.QueryRowContext(ctx, `SELECT `+checkInColumns+` FROM event_checkins WHERE event_id = ?`, id)
	if err := scanCheckIn(row, c); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get check-in %d: %w", id, err)
	}
	return c, nil
}

// ActiveCheckIns returns active check-ins created at or after since, oldest
// first. created_at is normalized to "YYYY-MM-DD HH:MM:SS" before comparing
// so both RFC3339 and isoformat() timestamps match.
func (d *DB) ActiveCheckIns(ctx context.Context, since time.Time) ([]CheckIn, error) {
	cutoff := since.UTC().Format("2006-01-02 15:04:05")
	rows, err := d.conn.QueryContext(ctx,
		`SELECT `+checkInColumns+` FROM event_checkins
		 WHERE COALESCE(status, 'active') = 'active'
		   AND datetime(replace(substr(created_at, 1, 19), 'T', ' ')) >= ?
		 ORDER BY event_id ASC`, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("active check-ins: %w", err)
	}
	return collectCheckIns(rows)
}

// ListCheckIns returns check-ins newest first with an optional status filter.
func (d *DB) ListCheckIns(ctx context.Context, status *string, limit, offset int) ([]CheckIn, error) {
	query := `SELECT ` + checkInColumns + ` FROM event_checkins WHERE 1=1`
	var args []any
	if status != nil {
		query += ` AND COALESCE(status, 'active') = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY event_id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list check-ins: %w", err)
	}
	return collectCheckIns(rows)
}

// UpdateCheckIns reschedules every listed check-in in one statement. An
// empty message keeps each row's current message_content.
func (d *DB) UpdateCheckIns(ctx context.Context, ids []int64, checkInTime, message string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if strings.TrimSpace(checkInTime) == "" {
		return 0, fmt.Errorf("%w: missing check_in_time", ErrIncompleteCheckIn)
	}

	placeholders, idArgs := inClause(ids)
	args := append([]any{strings.TrimSpace(checkInTime), strings.TrimSpace(message)}, idArgs...)
	res, err := d.conn.ExecContext(ctx,
		`UPDATE event_checkins
		 SET check_in_time = ?,
		     message_content = COALESCE(NULLIF(?, ''), message_content)
		 WHERE event_id IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return 0, fmt.Errorf("update check-ins %v: %w", ids, err)
	}
	return res.RowsAffected()
}

// UpdateCheckIn overwrites the mutable fields of a single check-in.
func (d *DB) UpdateCheckIn(ctx context.Context, c *CheckIn) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := d.conn.ExecContext(ctx,
		`UPDATE event_checkins SET message_content = ?, check_in_time = ?, category = ?, status = ? WHERE event_id = ?`,
		c.MessageContent, c.CheckInTime, c.Category, c.Status, c.EventID,
	)
	if err != nil {
		return fmt.Errorf("update check-in %d: %w", c.EventID, err)
	}
	return nil
}

// SetCheckInStatus updates only the status of a check-in.
func (d *DB) SetCheckInStatus(ctx context.Context, id int64, status string) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE event_checkins SET status = ? WHERE event_id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set check-in status %d: %w", id, err)
	}
	return nil
}

// DeleteCheckIns removes every listed check-in in one statement.
func (d *DB) DeleteCheckIns(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders, args := inClause(ids)
	res, err := d.conn.ExecContext(ctx, `DELETE FROM event_checkins WHERE event_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete check-ins %v: %w", ids, err)
	}
	return res.RowsAffected()
}

// CountCheckIns returns the number of check-ins per status.
func (d *DB) CountCheckIns(ctx context.Context) (map[string]int, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT COALESCE(status, 'active'), COUNT(*) FROM event_checkins GROUP BY COALESCE(status, 'active')`)
	if err != nil {
		return nil, fmt.Errorf("count check-ins: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan check-in count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func collectCheckIns(rows *sql.Rows) ([]CheckIn, error) {
	defer rows.Close() //nolint:errcheck

	var checkIns []CheckIn
	for rows.Next() {
		var c CheckIn
		if err := scanCheckIn(rows, &c); err != nil {
			return nil, fmt.Errorf("scan check-in: %w", err)
		}
		checkIns = append(checkIns, c)
	}
	return checkIns, rows.Err()
}

// inClause returns "?, ?, ?" for len(ids) and the matching args.
func inClause(ids []int64) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ", "), args
}

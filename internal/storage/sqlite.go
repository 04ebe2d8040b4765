package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/cortex/internal/notes"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for entries, connections,
// groups, and the job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "cortex.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Wait briefly on concurrent access instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests and ad-hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate applies embedded SQL migration files that haven't run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name() < files[j].Name()
	})

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(f.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + f.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", f.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Entries ---

const entryColumns = `id, title, body, category, created_at, updated_at, score,
	pinned, archived, starred, completed, due_date, urgency,
	(SELECT COUNT(*) FROM connections c WHERE c.source_id = entries.id OR c.target_id = entries.id)`

// SaveEntry inserts a new entry.
func (s *Store) SaveEntry(e notes.Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO entries (id, title, body, category, created_at, updated_at, score,
			pinned, archived, starred, completed, due_date, urgency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Body, string(e.Category),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt), e.Score,
		boolInt(e.Pinned), boolInt(e.Archived), boolInt(e.Starred), boolInt(e.Completed),
		formatTimePtr(e.DueDate), string(e.Urgency),
	)
	return err
}

// UpdateEntry rewrites an entry's mutable fields and bumps updated_at.
func (s *Store) UpdateEntry(e notes.Entry) error {
	res, err := s.db.Exec(`
		UPDATE entries SET title = ?, body = ?, category = ?, updated_at = ?, score = ?,
			pinned = ?, archived = ?, starred = ?, completed = ?, due_date = ?, urgency = ?
		WHERE id = ?`,
		e.Title, e.Body, string(e.Category), formatTime(e.UpdatedAt), e.Score,
		boolInt(e.Pinned), boolInt(e.Archived), boolInt(e.Starred), boolInt(e.Completed),
		formatTimePtr(e.DueDate), string(e.Urgency), e.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// GetEntry returns one entry with its connection count.
func (s *Store) GetEntry(id string) (notes.Entry, error) {
	row := s.db.QueryRow(`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return notes.Entry{}, ErrNotFound
	}
	return e, err
}

// ListEntries returns all entries ordered by score descending. Archived
// entries are excluded unless includeArchived is set; they can be
// fetched separately when needed.
func (s *Store) ListEntries(includeArchived bool) ([]notes.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries`
	if !includeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY score DESC, created_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []notes.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateEntryCategory writes a classification decision onto an entry.
func (s *Store) UpdateEntryCategory(id string, category notes.Category) error {
	res, err := s.db.Exec(`UPDATE entries SET category = ? WHERE id = ?`, string(category), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateEntryScore writes a priority score onto an entry.
func (s *Store) UpdateEntryScore(id string, score float64) error {
	res, err := s.db.Exec(`UPDATE entries SET score = ? WHERE id = ?`, score, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateScores writes a batch of recomputed scores in one transaction.
func (s *Store) UpdateScores(scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning score update: %w", err)
	}
	for id, score := range scores {
		if _, err := tx.Exec(`UPDATE entries SET score = ? WHERE id = ?`, score, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("updating score for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// DeleteEntry removes an entry; its connections cascade.
func (s *Store) DeleteEntry(id string) error {
	res, err := s.db.Exec(`DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (notes.Entry, error) {
	var e notes.Entry
	var category, urgency, createdAt, updatedAt string
	var dueDate sql.NullString
	var pinned, archived, starred, completed int

	err := row.Scan(&e.ID, &e.Title, &e.Body, &category, &createdAt, &updatedAt, &e.Score,
		&pinned, &archived, &starred, &completed, &dueDate, &urgency, &e.ConnectionCount)
	if err != nil {
		return notes.Entry{}, err
	}

	e.Category = notes.Category(category)
	e.Urgency = notes.Urgency(urgency)
	e.Pinned = pinned != 0
	e.Archived = archived != 0
	e.Starred = starred != 0
	e.Completed = completed != 0

	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return notes.Entry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return notes.Entry{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	if dueDate.Valid && dueDate.String != "" {
		t, err := time.Parse(time.RFC3339, dueDate.String)
		if err != nil {
			return notes.Entry{}, fmt.Errorf("parsing due_date: %w", err)
		}
		e.DueDate = &t
	}
	return e, nil
}

// --- Connections ---

// SaveConnection inserts a connection edge.
func (s *Store) SaveConnection(c notes.Connection) error {
	relationship := c.Relationship
	if relationship == "" {
		relationship = notes.DefaultRelationship
	}
	_, err := s.db.Exec(`
		INSERT INTO connections (id, source_id, target_id, relationship, strength, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SourceID, c.TargetID, relationship, c.Strength, c.CreatedBy, formatTime(c.CreatedAt),
	)
	return err
}

// ConnectionsFor returns every connection touching the entry, in either
// direction.
func (s *Store) ConnectionsFor(ctx context.Context, entryID string) ([]notes.Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, relationship, strength, created_by, created_at
		FROM connections WHERE source_id = ? OR target_id = ?
		ORDER BY strength DESC, created_at DESC`, entryID, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []notes.Connection
	for rows.Next() {
		var c notes.Connection
		var createdAt string
		if err := rows.Scan(&c.ID, &c.SourceID, &c.TargetID, &c.Relationship, &c.Strength, &c.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// UpdateConnectionStrength raises or lowers a connection's stored strength.
func (s *Store) UpdateConnectionStrength(ctx context.Context, connectionID string, strength float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE connections SET strength = ? WHERE id = ?`, strength, connectionID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteConnection removes a connection by ID.
func (s *Store) DeleteConnection(id string) error {
	res, err := s.db.Exec(`DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- Groups ---

// ListGroups returns all persisted groups.
func (s *Store) ListGroups() ([]notes.Group, error) {
	rows, err := s.db.Query(`
		SELECT id, name, member_ids, centroid, auto_generated, created_at
		FROM note_groups ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []notes.Group
	for rows.Next() {
		var g notes.Group
		var memberIDs, createdAt string
		var centroid []byte
		var autoGenerated int
		if err := rows.Scan(&g.ID, &g.Name, &memberIDs, &centroid, &autoGenerated, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(memberIDs), &g.MemberIDs); err != nil {
			return nil, fmt.Errorf("parsing member_ids for group %s: %w", g.ID, err)
		}
		if len(centroid) > 0 {
			vec, err := decodeFloat32s(centroid)
			if err != nil {
				return nil, fmt.Errorf("decoding centroid for group %s: %w", g.ID, err)
			}
			g.Centroid = vec
		}
		g.AutoGenerated = autoGenerated != 0
		if g.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for group %s: %w", g.ID, err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ReplaceGroups swaps the full group set in one transaction. Callers
// pass the reconciled set, so user-renamed groups survive by identity.
func (s *Store) ReplaceGroups(groups []notes.Group) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning group replace: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM note_groups`); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing groups: %w", err)
	}
	for _, g := range groups {
		memberIDs, err := json.Marshal(g.MemberIDs)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshalling member_ids for group %s: %w", g.ID, err)
		}
		var centroid []byte
		if len(g.Centroid) > 0 {
			centroid = encodeFloat32s(g.Centroid)
		}
		if _, err := tx.Exec(`
			INSERT INTO note_groups (id, name, member_ids, centroid, auto_generated, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			g.ID, g.Name, string(memberIDs), centroid, boolInt(g.AutoGenerated), formatTime(g.CreatedAt),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting group %s: %w", g.ID, err)
		}
	}
	return tx.Commit()
}

// RenameGroup sets a user-chosen name and clears the auto flag so the
// name survives future re-clustering.
func (s *Store) RenameGroup(id, name string) error {
	res, err := s.db.Exec(`UPDATE note_groups SET name = ?, auto_generated = 0 WHERE id = ?`, name, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- Jobs ---

// EnqueueJob adds a job to the queue.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextJob transactionally claims the oldest runnable job of the
// given types, or returns nil when none is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

// CompleteJob marks a job completed.
func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FailJob records a failure, rescheduling with exponential backoff
// until max attempts is reached.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// --- helpers ---

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

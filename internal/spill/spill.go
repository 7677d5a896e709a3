package spill

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/stacksync/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// DefaultFlushSize is the number of rows written per transaction.
const DefaultFlushSize = 1000

// ErrSealed is returned when writing to a spill that has been sealed.
var ErrSealed = errors.New("spill is sealed")

// ErrNotSealed is returned when reading a spill that is still being written.
var ErrNotSealed = errors.New("spill is not sealed")

// Spill is an ordered, append-only store of delta records for one
// (type, category) pair.
//
// Lifecycle: Open → Write* → Seal → Reader → Remove.
// Not safe for concurrent writers.
type Spill struct {
	db        *sql.DB
	path      string
	typ       model.MigrationType
	category  model.Category
	clock     *Clock
	flushSize int

	tx      *sql.Tx
	stmt    *sql.Stmt
	pending int
	sealed  bool
}

// Option configures a Spill.
type Option func(*Spill)

// WithFlushSize sets how many rows are committed per transaction.
func WithFlushSize(n int) Option {
	return func(s *Spill) {
		if n > 0 {
			s.flushSize = n
		}
	}
}

// Open creates a new spill file in dir for the given type and category.
// An existing file with the same name is truncated.
func Open(dir string, t model.MigrationType, cat model.Category, opts ...Option) (*Spill, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.db", t, cat))
	if err := removeFiles(path); err != nil {
		return nil, fmt.Errorf("failed to clear spill %s: %w", path, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spill: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to spill: %w", err)
	}

	// One writer, then one reader: a single connection keeps the open
	// transaction and the read cursor on the same handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	s := &Spill{
		db:        db,
		path:      path,
		typ:       t,
		category:  cat,
		clock:     NewClock(),
		flushSize: DefaultFlushSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the spill's database file path.
func (s *Spill) Path() string {
	return s.path
}

// Type returns the migration type the spill belongs to.
func (s *Spill) Type() model.MigrationType {
	return s.typ
}

// Category returns the spill's delta category.
func (s *Spill) Category() model.Category {
	return s.category
}

// Count returns the number of rows written so far.
func (s *Spill) Count() int64 {
	return s.clock.Current()
}

// Write appends one record. Rows become durable in batches of the flush
// size and at Seal.
func (s *Spill) Write(ctx context.Context, rec model.RecordMetadata) error {
	if s.sealed {
		return ErrSealed
	}
	if s.tx == nil {
		if err := s.begin(ctx); err != nil {
			return err
		}
	}

	var etag sql.NullString
	if rec.Etag != nil {
		etag = sql.NullString{String: *rec.Etag, Valid: true}
	}
	if _, err := s.stmt.ExecContext(ctx, s.clock.Next(), rec.ID, etag); err != nil {
		return fmt.Errorf("write spill row: %w", err)
	}

	s.pending++
	if s.pending >= s.flushSize {
		return s.commit()
	}
	return nil
}

// Seal commits any pending rows and closes the spill for writing.
// Sealing twice is a no-op.
func (s *Spill) Seal() error {
	if s.sealed {
		return nil
	}
	if err := s.commit(); err != nil {
		return err
	}
	s.sealed = true
	return nil
}

// Sealed reports whether the spill has been sealed.
func (s *Spill) Sealed() bool {
	return s.sealed
}

// Reader returns a reader over all rows in write order.
// The spill must be sealed. Callers must Close the reader.
func (s *Spill) Reader(ctx context.Context) (*Reader, error) {
	if !s.sealed {
		return nil, ErrNotSealed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, etag FROM rows ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query spill: %w", err)
	}
	return &Reader{rows: rows}, nil
}

// Close closes the database handle without removing the file.
// Pending rows are rolled back if the spill was not sealed.
func (s *Spill) Close() error {
	if s.tx != nil {
		s.stmt.Close()
		s.tx.Rollback()
		s.tx, s.stmt = nil, nil
	}
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Remove closes the spill and deletes its files.
func (s *Spill) Remove() error {
	closeErr := s.Close()
	if err := removeFiles(s.path); err != nil {
		return err
	}
	return closeErr
}

func (s *Spill) begin(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin spill tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO rows (seq, id, etag) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare spill insert: %w", err)
	}
	s.tx, s.stmt = tx, stmt
	return nil
}

func (s *Spill) commit() error {
	if s.tx == nil {
		return nil
	}
	s.stmt.Close()
	err := s.tx.Commit()
	s.tx, s.stmt, s.pending = nil, nil, 0
	if err != nil {
		return fmt.Errorf("commit spill rows: %w", err)
	}
	return nil
}

// applyPragmas sets spill SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = OFF",
		"PRAGMA temp_store = FILE",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// removeFiles deletes a database file and its WAL sidecars.
func removeFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// Reader streams spill rows in write order.
type Reader struct {
	rows *sql.Rows
	err  error
}

// Next returns the next record. It returns false when the spill is
// exhausted or an error occurred; check Err afterwards.
func (r *Reader) Next() (model.RecordMetadata, bool) {
	if r.err != nil || !r.rows.Next() {
		return model.RecordMetadata{}, false
	}
	var (
		rec  model.RecordMetadata
		etag sql.NullString
	)
	if err := r.rows.Scan(&rec.ID, &etag); err != nil {
		r.err = fmt.Errorf("scan spill row: %w", err)
		return model.RecordMetadata{}, false
	}
	if etag.Valid {
		s := etag.String
		rec.Etag = &s
	}
	return rec, true
}

// NextBatch returns up to n records. An empty batch means the reader is
// exhausted.
func (r *Reader) NextBatch(n int) ([]model.RecordMetadata, error) {
	batch := make([]model.RecordMetadata, 0, n)
	for len(batch) < n {
		rec, ok := r.Next()
		if !ok {
			break
		}
		batch = append(batch, rec)
	}
	return batch, r.Err()
}

// Err returns the first error encountered while reading.
func (r *Reader) Err() error {
	if r.err != nil {
		return r.err
	}
	if err := r.rows.Err(); err != nil {
		return fmt.Errorf("iterate spill: %w", err)
	}
	return nil
}

// Close releases the read cursor.
func (r *Reader) Close() error {
	return r.rows.Close()
}

// NewPassDir creates a fresh directory for one pass's spills under parent
// (os.TempDir() when empty).
func NewPassDir(parent, passID string) (string, error) {
	dir, err := os.MkdirTemp(parent, "stacksync-"+passID+"-")
	if err != nil {
		return "", fmt.Errorf("create spill dir: %w", err)
	}
	return dir, nil
}

package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/syntrixbase/docsync/pkg/model"
)

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ErrInvalidTable is returned for table names that are not safe SQL identifiers.
var ErrInvalidTable = errors.New("invalid table name")

const columns = `partition, document_id, document, etag, expiration_time, download_time, operation_time, pending_operation`

// Store persists document rows in per-partition-class SQLite tables.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	tables map[string]struct{}
}

// Open opens (creating if needed) the SQLite database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go into the DSN so every pooled connection gets them.
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", "synchronous(normal)")
	dsn := "file:" + cfg.Path + "?" + q.Encode()

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)

	return New(db, cfg.Logger), nil
}

// New wraps an existing database handle.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger.With("component", "localstore"),
		now:    time.Now,
		tables: make(map[string]struct{}),
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func readErr(err error) error {
	return model.NewDataError("", fmt.Errorf("%w: %w", model.ErrCacheRead, err))
}

func writeErr(err error) error {
	return model.NewDataError("", fmt.Errorf("%w: %w", model.ErrCacheWrite, err))
}

func quote(table string) string {
	return `"` + table + `"`
}

// CreateTable creates the document table if it does not exist.
func (s *Store) CreateTable(ctx context.Context, table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table]; ok {
		return nil
	}
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    partition         TEXT NOT NULL,
    document_id       TEXT NOT NULL,
    document          TEXT,
    etag              TEXT,
    expiration_time   INTEGER NOT NULL,
    download_time     INTEGER NOT NULL,
    operation_time    INTEGER NOT NULL,
    pending_operation TEXT,
    UNIQUE (partition, document_id)
)`, quote(table))
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return writeErr(err)
	}
	s.tables[table] = struct{}{}
	return nil
}

// DropTable removes the table and all of its rows. A missing table is not an error.
func (s *Store) DropTable(ctx context.Context, table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(table)); err != nil {
		return writeErr(err)
	}
	delete(s.tables, table)
	s.logger.Info("Dropped document table", "table", table)
	return nil
}

// Lookup returns the stored row as-is, or nil when absent. It never mutates.
func (s *Store) Lookup(ctx context.Context, table, partition, id string) (*LocalDocument, error) {
	if err := s.CreateTable(ctx, table); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+columns+" FROM "+quote(table)+" WHERE partition = ? AND document_id = ?",
		partition, id)
	doc, err := scanDocument(row, table)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, readErr(err)
	}
	return doc, nil
}

// Read returns the cached row. Expired rows are deleted and reported as
// ErrExpired; rows marked for deletion yield ErrMarkedDeleted. A non-nil
// opts refreshes the row's expiration with its time-to-live, and a
// no-cache read removes an unmodified row after returning it.
func (s *Store) Read(ctx context.Context, table, partition, id string, opts *model.ReadOptions) (*LocalDocument, error) {
	doc, err := s.Lookup(ctx, table, partition, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, model.NewDataError("", model.ErrNotFound)
	}
	now := s.now()
	if doc.PendingOperation == model.OpDelete {
		return nil, model.NewDataError("", model.ErrMarkedDeleted)
	}
	if doc.IsExpired(now) {
		if _, err := s.DeleteOnline(ctx, table, partition, id); err != nil {
			s.logger.Warn("Failed to invalidate expired document", "table", table, "id", id, "error", err)
		}
		s.logger.Info("Document was found in the cache, but it was expired", "partition", partition, "id", id)
		return nil, model.NewDataError("", model.ErrExpired)
	}
	if opts == nil {
		return doc, nil
	}

	ttl := opts.Effective()
	switch {
	case ttl == model.TTLNoCache && !doc.PendingOperation.IsPending():
		if _, err := s.DeleteOnline(ctx, table, partition, id); err != nil {
			s.logger.Warn("Failed to evict no-cache document", "table", table, "id", id, "error", err)
		}
	case ttl != model.TTLNoCache:
		doc.ExpirationTime = ttl.ExpiresAt(now)
		if _, err := s.db.ExecContext(ctx,
			"UPDATE "+quote(table)+" SET expiration_time = ? WHERE partition = ? AND document_id = ?",
			doc.ExpirationTime, partition, id); err != nil {
			s.logger.Warn("Failed to refresh document expiration", "table", table, "id", id, "error", err)
		}
	}
	return doc, nil
}

// CreateOrUpdateOffline stores a locally authored write. The pending marker
// is CREATE when no live row exists and REPLACE otherwise; the cached ETag is
// kept so the replayed replace targets the known version. A no-cache write
// persists nothing.
func (s *Store) CreateOrUpdateOffline(ctx context.Context, table, partition, id string, value []byte, opts model.WriteOptions) (*model.Document, error) {
	existing, err := s.Lookup(ctx, table, partition, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	op := model.OpCreate
	etag := ""
	if existing != nil && (!existing.IsExpired(now) || existing.PendingOperation == model.OpDelete) {
		op = model.OpReplace
		etag = existing.ETag
	}

	doc := &model.Document{
		ID:               id,
		Partition:        partition,
		ETag:             etag,
		Value:            value,
		FromDeviceCache:  true,
		PendingOperation: op,
	}
	ttl := opts.Effective()
	if ttl == model.TTLNoCache {
		return doc, nil
	}
	if err := s.upsert(ctx, table, doc, ttl.ExpiresAt(now), now, op.String()); err != nil {
		return nil, err
	}
	return doc, nil
}

// WriteOnline persists a document confirmed by the remote store and clears
// any pending marker. A no-cache write persists nothing.
func (s *Store) WriteOnline(ctx context.Context, table string, doc *model.Document, opts model.WriteOptions) error {
	ttl := opts.Effective()
	if ttl == model.TTLNoCache {
		return nil
	}
	if err := s.CreateTable(ctx, table); err != nil {
		return err
	}
	now := s.now()
	return s.upsert(ctx, table, doc, ttl.ExpiresAt(now), now, "")
}

// DeleteOffline marks the row for deletion, keeping its ETag. The marker is
// stored even for a no-cache policy, which then falls back to the default
// time-to-live; otherwise the delete would be lost.
func (s *Store) DeleteOffline(ctx context.Context, table, partition, id string, opts model.WriteOptions) (bool, error) {
	existing, err := s.Lookup(ctx, table, partition, id)
	if err != nil {
		return false, err
	}
	doc := &model.Document{ID: id, Partition: partition}
	if existing != nil {
		doc.ETag = existing.ETag
	}
	ttl := opts.Effective()
	if ttl == model.TTLNoCache {
		ttl = model.TTLDefault
	}
	now := s.now()
	if err := s.upsert(ctx, table, doc, ttl.ExpiresAt(now), now, model.OpDelete.String()); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteOnline removes the row. It reports whether a row matched.
func (s *Store) DeleteOnline(ctx context.Context, table, partition, id string) (bool, error) {
	if err := s.CreateTable(ctx, table); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM "+quote(table)+" WHERE partition = ? AND document_id = ?", partition, id)
	if err != nil {
		return false, writeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, writeErr(err)
	}
	return n > 0, nil
}

// PendingOperations returns every row of table carrying a pending marker.
// An unknown table yields an empty result.
func (s *Store) PendingOperations(ctx context.Context, table string) ([]LocalDocument, error) {
	if err := s.CreateTable(ctx, table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+columns+" FROM "+quote(table)+" WHERE pending_operation IS NOT NULL AND pending_operation != ''")
	if err != nil {
		return nil, readErr(err)
	}
	return collect(rows, table)
}

// DocumentsByPartition returns the unexpired rows of partition that are not
// marked for deletion. Visited rows that expired, or that a no-cache read
// touches without a pending write, are deleted.
func (s *Store) DocumentsByPartition(ctx context.Context, table, partition string, opts model.ReadOptions) ([]LocalDocument, error) {
	if err := s.CreateTable(ctx, table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+columns+" FROM "+quote(table)+" WHERE partition = ? ORDER BY id", partition)
	if err != nil {
		return nil, readErr(err)
	}
	all, err := collect(rows, table)
	if err != nil {
		return nil, err
	}

	now := s.now()
	noCache := opts.Effective() == model.TTLNoCache
	result := make([]LocalDocument, 0, len(all))
	for _, doc := range all {
		if doc.PendingOperation == model.OpDelete {
			continue
		}
		expired := doc.IsExpired(now)
		if expired || (noCache && !doc.PendingOperation.IsPending()) {
			if _, err := s.DeleteOnline(ctx, table, doc.Partition, doc.ID); err != nil {
				s.logger.Warn("Failed to evict document", "table", table, "id", doc.ID, "error", err)
			}
		}
		if !expired {
			result = append(result, doc)
		}
	}
	return result, nil
}

// rowUnchanged matches a row only while it still holds the version that was
// read: same marker, same operation time and same body.
const rowUnchanged = " WHERE partition = ? AND document_id = ? AND pending_operation = ? AND operation_time = ? AND document IS ?"

func unchangedArgs(row LocalDocument) []any {
	body := sql.NullString{String: string(row.Document), Valid: row.Document != nil}
	return []any{row.Partition, row.ID, row.RawOperation(), row.OperationTime, body}
}

// ConfirmPending clears the pending marker of row and stores the confirmed
// ETag and body, keeping the expiration. It reports false and leaves the
// table untouched when the row was rewritten or removed after it was read.
func (s *Store) ConfirmPending(ctx context.Context, row LocalDocument, etag string, document json.RawMessage) (bool, error) {
	if err := s.CreateTable(ctx, row.Table); err != nil {
		return false, err
	}
	args := append([]any{nullable(etag), string(document), s.now().UnixMilli()}, unchangedArgs(row)...)
	res, err := s.db.ExecContext(ctx,
		"UPDATE "+quote(row.Table)+" SET pending_operation = NULL, etag = ?, document = ?, operation_time = ?"+rowUnchanged, args...)
	if err != nil {
		return false, writeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, writeErr(err)
	}
	return n > 0, nil
}

// DeletePending removes row unless it was rewritten after it was read.
func (s *Store) DeletePending(ctx context.Context, row LocalDocument) (bool, error) {
	if err := s.CreateTable(ctx, row.Table); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+quote(row.Table)+rowUnchanged, unchangedArgs(row)...)
	if err != nil {
		return false, writeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, writeErr(err)
	}
	return n > 0, nil
}

// HasPendingOperation reports whether any of docs is waiting for replay.
func HasPendingOperation(docs []LocalDocument) bool {
	for _, doc := range docs {
		if doc.PendingOperation.IsPending() {
			return true
		}
	}
	return false
}

func (s *Store) upsert(ctx context.Context, table string, doc *model.Document, expiration int64, now time.Time, op string) error {
	body, err := encodeEnvelope(doc)
	if err != nil {
		return writeErr(err)
	}
	s.logger.Debug("Writing document to cache", "table", table, "partition", doc.Partition, "id", doc.ID, "operation", op)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+quote(table)+` (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (partition, document_id) DO UPDATE SET
			document = excluded.document,
			etag = excluded.etag,
			expiration_time = excluded.expiration_time,
			download_time = excluded.download_time,
			operation_time = excluded.operation_time,
			pending_operation = excluded.pending_operation
	`, doc.Partition, doc.ID, string(body), nullable(doc.ETag), expiration, now.UnixMilli(), now.UnixMilli(), nullable(op))
	if err != nil {
		return writeErr(err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner, table string) (*LocalDocument, error) {
	var (
		doc     LocalDocument
		body    sql.NullString
		etag    sql.NullString
		pending sql.NullString
	)
	if err := row.Scan(&doc.Partition, &doc.ID, &body, &etag, &doc.ExpirationTime,
		&doc.DownloadTime, &doc.OperationTime, &pending); err != nil {
		return nil, err
	}
	doc.Table = table
	doc.ETag = etag.String
	if body.Valid {
		doc.Document = []byte(body.String)
	}
	doc.PendingOperation = model.ParsePendingOperation(pending.String)
	if doc.PendingOperation == model.OpUnsupported {
		doc.rawOperation = pending.String
	}
	return &doc, nil
}

func collect(rows *sql.Rows, table string) ([]LocalDocument, error) {
	defer rows.Close()
	var result []LocalDocument
	for rows.Next() {
		doc, err := scanDocument(rows, table)
		if err != nil {
			return nil, readErr(err)
		}
		result = append(result, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr(err)
	}
	return result, nil
}

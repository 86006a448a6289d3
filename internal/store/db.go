package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/azuredevops/cachesync/internal/errs"

	_ "modernc.org/sqlite"
)

// openPragmas is applied to every opened database file. WAL mode lets the
// single writer (an Updater, serialized by CacheManager) run alongside UI
// reads without lock contention; busy_timeout absorbs the brief overlap
// window instead of surfacing SQLITE_BUSY. Grounded on
// other_examples/odvcencio-gothub__sqlite.go, since the teacher's own
// storage.NewStore only sets foreign_keys.
var openPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// open opens a SQLite file at path, applies the standard pragmas, and
// returns the handle. Fails with DataStoreInaccessible per spec §4.1.
func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "open "+path, err)
	}
	for _, pragma := range openPragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errs.Wrap(errs.DataStoreInaccessible, "pragma "+pragma, err)
		}
	}
	return db, nil
}

// beginTx starts a transaction, wrapping failures as DataStoreInaccessible.
func beginTx(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "begin transaction", err)
	}
	return tx, nil
}

// getMetadata reads a single Metadata value, empty string if absent.
func getMetadata(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, key string) (string, error) {
	var v string
	err := q.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// setMetadata upserts a single Metadata value.
func setMetadata(ctx context.Context, e interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, key, value string) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// removeFileIfExists deletes path, tolerating it already being absent.
func removeFileIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	// SQLite may also leave WAL/SHM sidecar files.
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")
	return nil
}

func fmtSchemaVersion(v int) string { return fmt.Sprintf("%d", v) }

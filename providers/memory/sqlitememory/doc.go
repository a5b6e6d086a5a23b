// Package sqlitememory provides a SQLite-backed [memory.Provider] built on
// database/sql and github.com/mattn/go-sqlite3.
//
// Messages of a session live in one table ordered by an AUTOINCREMENT seq
// column, so ids are never reused even across restarts. Each PutMany runs in
// a single transaction. Use [DSNForFile] to get a DSN with WAL and a busy
// timeout configured.
package sqlitememory

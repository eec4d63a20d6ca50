// Copyright 2024 The zb Authors
// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package buildlog records the history of protection builds in a SQLite database.
package buildlog

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/vmcrypto"
	"zombiezen.com/go/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitemigration"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ErrNotFound is returned by [DB.Find] for an unknown build ID.
var ErrNotFound = errors.New("build not found")

// Record is the history entry of one build.
type Record struct {
	ID      uuid.UUID
	Name    string
	Dialect dialect.Dialect
	Seed    string
	// Encryption is zero for builds that failed before encryption.
	Encryption  vmcrypto.Method
	Fingerprint uuid.UUID
	Archetype   string
	StartedAt   time.Time
	Duration    time.Duration

	InputSize    int
	OutputSize   int
	BytecodeSize int
	// Opcodes maps the mnemonics the build used to their opcode bytes.
	Opcodes map[string]byte
	// Error is the build's error message, if it failed.
	Error string
}

// DB is a build history database.
// It is safe to use from multiple goroutines.
type DB struct {
	pool *sqlitemigration.Pool
}

// Open opens the history database at path, creating it if necessary.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return nil, fmt.Errorf("open build log: %v", err)
	}
	return &DB{
		pool: sqlitemigration.NewPool(path, loadSchema(), sqlitemigration.Options{
			Flags:       sqlite.OpenCreate | sqlite.OpenReadWrite,
			PrepareConn: prepareConn,
			OnStartMigrate: func() {
				log.Debugf(context.Background(), "Migrating build log...")
			},
			OnError: func(err error) {
				log.Errorf(context.Background(), "Build log migration: %v", err)
			},
		}),
	}, nil
}

// Close releases the database's connections.
func (db *DB) Close() error {
	return db.pool.Close()
}

// Record adds a build to the history.
func (db *DB) Record(ctx context.Context, r *Record) (err error) {
	conn, err := db.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("record build %v: %v", r.ID, err)
	}
	defer db.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("record build %v: %v", r.ID, err)
	}
	defer endFn(&err)

	var errorMessage any
	if r.Error != "" {
		errorMessage = r.Error
	}
	var encryption string
	if r.Encryption != 0 {
		encryption = r.Encryption.String()
	}
	var fingerprint string
	if r.Fingerprint != (uuid.UUID{}) {
		fingerprint = r.Fingerprint.String()
	}
	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "insert.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":id":            r.ID.String(),
			":name":          r.Name,
			":dialect":       r.Dialect.String(),
			":seed":          r.Seed,
			":encryption":    encryption,
			":fingerprint":   fingerprint,
			":archetype":     r.Archetype,
			":started_at":    r.StartedAt.UnixMilli(),
			":duration_ms":   r.Duration.Milliseconds(),
			":input_size":    r.InputSize,
			":output_size":   r.OutputSize,
			":bytecode_size": r.BytecodeSize,
			":error":         errorMessage,
		},
	})
	if err != nil {
		return fmt.Errorf("record build %v: %v", r.ID, err)
	}
	for mnemonic, op := range r.Opcodes {
		err := sqlitex.ExecuteFS(conn, sqlFiles(), "insert_opcode.sql", &sqlitex.ExecOptions{
			Named: map[string]any{
				":build_id": r.ID.String(),
				":mnemonic": mnemonic,
				":opcode":   int(op),
			},
		})
		if err != nil {
			return fmt.Errorf("record build %v: opcode %s: %v", r.ID, mnemonic, err)
		}
	}
	return nil
}

// Recent returns at most limit builds, most recent first.
// Opcodes are not loaded.
func (db *DB) Recent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	conn, err := db.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recent builds: %v", err)
	}
	defer db.pool.Put(conn)

	result := make([]*Record, 0, limit)
	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "recent.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":n": limit,
		},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			r, err := scanRecord(stmt)
			if err != nil {
				return err
			}
			result = append(result, r)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list recent builds: %v", err)
	}
	return result, nil
}

// Find returns the build with the given ID, including its opcodes.
func (db *DB) Find(ctx context.Context, id uuid.UUID) (*Record, error) {
	conn, err := db.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("find build %v: %v", id, err)
	}
	defer db.pool.Put(conn)

	var r *Record
	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "find.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":id": id.String(),
		},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var err error
			r, err = scanRecord(stmt)
			return err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("find build %v: %v", id, err)
	}
	if r == nil {
		return nil, fmt.Errorf("find build %v: %w", id, ErrNotFound)
	}
	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "opcodes.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":build_id": id.String(),
		},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if r.Opcodes == nil {
				r.Opcodes = make(map[string]byte)
			}
			r.Opcodes[stmt.GetText("mnemonic")] = byte(stmt.GetInt64("opcode"))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("find build %v: %v", id, err)
	}
	return r, nil
}

// Prune deletes builds that started before cutoff
// and returns the number of builds deleted.
func (db *DB) Prune(ctx context.Context, cutoff time.Time) (n int, err error) {
	conn, err := db.pool.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune build log: %v", err)
	}
	defer db.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("prune build log: %v", err)
	}
	defer endFn(&err)
	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "prune.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":cutoff": cutoff.UnixMilli(),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("prune build log: %v", err)
	}
	return conn.Changes(), nil
}

func scanRecord(stmt *sqlite.Stmt) (*Record, error) {
	r := &Record{
		Name:         stmt.GetText("name"),
		Seed:         stmt.GetText("seed"),
		Archetype:    stmt.GetText("archetype"),
		StartedAt:    time.UnixMilli(stmt.GetInt64("started_at")).UTC(),
		Duration:     time.Duration(stmt.GetInt64("duration_ms")) * time.Millisecond,
		InputSize:    int(stmt.GetInt64("input_size")),
		OutputSize:   int(stmt.GetInt64("output_size")),
		BytecodeSize: int(stmt.GetInt64("bytecode_size")),
		Error:        stmt.GetText("error"),
	}
	var err error
	r.ID, err = uuid.Parse(stmt.GetText("id"))
	if err != nil {
		return nil, fmt.Errorf("id: %v", err)
	}
	if err := r.Dialect.UnmarshalText([]byte(stmt.GetText("dialect"))); err != nil {
		return nil, err
	}
	if s := stmt.GetText("encryption"); s != "" {
		if err := r.Encryption.UnmarshalText([]byte(s)); err != nil {
			return nil, err
		}
	}
	if s := stmt.GetText("fingerprint"); s != "" {
		r.Fingerprint, err = uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("fingerprint: %v", err)
		}
	}
	return r, nil
}

func prepareConn(conn *sqlite.Conn) error {
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode = wal;", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys = on;", nil); err != nil {
		return err
	}
	return nil
}

//go:embed sql/*.sql
//go:embed sql/schema/*.sql
var rawSQLFiles embed.FS

func sqlFiles() fs.FS {
	sub, err := fs.Sub(rawSQLFiles, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

var schemaState struct {
	init   sync.Once
	schema sqlitemigration.Schema
	err    error
}

func loadSchema() sqlitemigration.Schema {
	schemaState.init.Do(func() {
		for i := 1; ; i++ {
			migration, err := fs.ReadFile(sqlFiles(), fmt.Sprintf("schema/%02d.sql", i))
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			if err != nil {
				schemaState.err = err
				return
			}
			schemaState.schema.Migrations = append(schemaState.schema.Migrations, string(migration))
		}
	})

	if schemaState.err != nil {
		panic(schemaState.err)
	}
	return schemaState.schema
}

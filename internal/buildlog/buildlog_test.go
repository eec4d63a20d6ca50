// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package buildlog

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/testcontext"
	"oclare.dev/pkg/internal/vmcrypto"
)

func openTestDB(tb testing.TB) *DB {
	tb.Helper()
	db, err := Open(filepath.Join(tb.TempDir(), "sub", "history.db"))
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		if err := db.Close(); err != nil {
			tb.Error("Close:", err)
		}
	})
	return db
}

func TestRoundTrip(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	db := openTestDB(t)

	start := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	ok := &Record{
		ID:           uuid.MustParse("0b6c3d2e-4a57-4c39-9f1d-7e6f5a4b3c2d"),
		Name:         "main.lua",
		Dialect:      dialect.Lua54,
		Seed:         "seed",
		Encryption:   vmcrypto.XSalsa20Poly1305,
		Fingerprint:  uuid.MustParse("7f3e2d1c-0b9a-5876-8543-210fedcba987"),
		Archetype:    "stack-le",
		StartedAt:    start,
		Duration:     1500 * time.Millisecond,
		InputSize:    120,
		OutputSize:   40960,
		BytecodeSize: 333,
		Opcodes:      map[string]byte{"ADD": 0x17, "RET": 0x9c},
	}
	failed := &Record{
		ID:        uuid.MustParse("1c7d4e3f-5b68-4d4a-8a2e-8f706b5c4d3e"),
		Name:      "bad.lua",
		Dialect:   dialect.Lua51,
		StartedAt: start.Add(time.Minute),
		InputSize: 7,
		Error:     "protect bad.lua: bad.lua:1:1: unexpected symbol",
	}
	for _, r := range []*Record{ok, failed} {
		if err := db.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.Find(ctx, ok.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ok, got); diff != "" {
		t.Errorf("Find(%v) (-want +got):\n%s", ok.ID, diff)
	}
	got, err = db.Find(ctx, failed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(failed, got); diff != "" {
		t.Errorf("Find(%v) (-want +got):\n%s", failed.ID, diff)
	}

	if _, err := db.Find(ctx, uuid.Nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(nil) error = %v; want %v", err, ErrNotFound)
	}
}

func TestRecent(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	db := openTestDB(t)

	start := time.Date(2026, time.April, 2, 8, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := range 4 {
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(i)})
		ids = append(ids, id)
		err := db.Record(ctx, &Record{
			ID:        id,
			Name:      "f.lua",
			Dialect:   dialect.Luau,
			StartedAt: start.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		limit int
		want  []uuid.UUID
	}{
		{limit: 0, want: nil},
		{limit: 2, want: []uuid.UUID{ids[3], ids[2]}},
		{limit: 10, want: []uuid.UUID{ids[3], ids[2], ids[1], ids[0]}},
	}
	for _, test := range tests {
		records, err := db.Recent(ctx, test.limit)
		if err != nil {
			t.Fatal(err)
		}
		var got []uuid.UUID
		for _, r := range records {
			got = append(got, r.ID)
			if r.Opcodes != nil {
				t.Errorf("Recent(%d) loaded opcodes for %v", test.limit, r.ID)
			}
		}
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("Recent(%d) (-want +got):\n%s", test.limit, diff)
		}
	}

	n, err := db.Prune(ctx, start.Add(90*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Prune(...) = %d; want 2", n)
	}
	records, err := db.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("after Prune, %d records remain; want 2", len(records))
	}
}

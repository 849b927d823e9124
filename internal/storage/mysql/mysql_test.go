package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"testing/fstest"

	"CoSign-Chain/internal/storage/mysql/mysqltest"
)

func TestFileAttemptRepository(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := NewFileAttemptRepository(dir)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}

	ctx := context.Background()
	records := []AttemptRecord{
		{JobID: "job-1", Attempt: 1, State: "FAILED", ErrorCode: "SUBMISSION_FAILURE", CreatedAt: 1},
		{JobID: "job-2", Attempt: 1, State: "CONFIRMED", Hash: "0x02", CreatedAt: 2},
		{JobID: "job-1", Attempt: 2, State: "CONFIRMED", Hash: "0x01", CreatedAt: 3},
	}
	for _, r := range records {
		if err := repo.Save(ctx, r); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	got, err := repo.ListByJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 || got[0].Attempt != 1 || got[1].Hash != "0x01" {
		t.Fatalf("unexpected history: %+v", got)
	}

	reopened, err := NewFileAttemptRepository(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, err = reopened.ListByJob(ctx, "job-2")
	if err != nil {
		t.Fatalf("list after reopen failed: %v", err)
	}
	if len(got) != 1 || got[0].State != "CONFIRMED" {
		t.Fatalf("history not restored: %+v", got)
	}
}

func TestSQLAttemptRepository(t *testing.T) {
	t.Parallel()

	db, drv := mysqltest.New(t,
		mysqltest.Exec(`INSERT INTO submission_attempts
        (job_id, attempt, action, sender, hash, state, error_code, message, elapsed_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, mysqltest.Result{RowsAffected: 1}),
		mysqltest.Query(`SELECT job_id, attempt, action, sender, hash, state, error_code, message, elapsed_ms, created_at
        FROM submission_attempts WHERE job_id = ? ORDER BY attempt ASC, id ASC`, mysqltest.Rows{
			Columns: []string{"job_id", "attempt", "action", "sender", "hash", "state", "error_code", "message", "elapsed_ms", "created_at"},
			Values: [][]driver.Value{
				{"job-1", int64(1), "transfer", "0x01", "", "FAILED", "E", "boom", int64(12), int64(100)},
				{"job-1", int64(2), "transfer", "0x01", "0xaa", "CONFIRMED", "", "", int64(30), int64(200)},
			},
		}),
	)
	defer drv.AssertConsumed(t)

	repo := NewSQLAttemptRepository(db)
	ctx := context.Background()
	if err := repo.Save(ctx, AttemptRecord{JobID: "job-1", Attempt: 1, Action: "transfer", State: "FAILED"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if args := drv.Args(0); len(args) != 10 || args[0] != "job-1" {
		t.Fatalf("unexpected insert args: %v", args)
	}

	got, err := repo.ListByJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 || got[1].Hash != "0xaa" || got[0].ElapsedMs != 12 {
		t.Fatalf("unexpected records: %+v", got)
	}
}

func TestMigrateAppliesPendingInOrder(t *testing.T) {
	t.Parallel()

	files := fstest.MapFS{
		"0002_second.sql": {Data: []byte("CREATE TABLE b (id INT);")},
		"0001_first.sql":  {Data: []byte("CREATE TABLE a (id INT);\nCREATE INDEX ia ON a (id);")},
		"README.md":       {Data: []byte("ignored")},
	}

	db, drv := mysqltest.New(t,
		mysqltest.Exec(createMigrationsTable, mysqltest.Result{}),
		mysqltest.Query(`SELECT version FROM schema_migrations`, mysqltest.Rows{
			Columns: []string{"version"},
			Values:  [][]driver.Value{{"0001"}},
		}),
		mysqltest.Begin(),
		mysqltest.Exec(`CREATE TABLE b (id INT)`, mysqltest.Result{}),
		mysqltest.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mysqltest.Result{RowsAffected: 1}),
		mysqltest.Commit(),
	)
	defer drv.AssertConsumed(t)

	if err := migrate(context.Background(), db, files); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
}

func TestMigrateRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	files := fstest.MapFS{"0001_first.sql": {Data: []byte("CREATE TABLE a (id INT)")}}
	db, drv := mysqltest.New(t,
		mysqltest.Exec(createMigrationsTable, mysqltest.Result{}),
		mysqltest.Query(`SELECT version FROM schema_migrations`, mysqltest.Rows{Columns: []string{"version"}}),
		mysqltest.Begin(),
		mysqltest.ExecErr(`CREATE TABLE a (id INT)`, errors.New("syntax")),
		mysqltest.Rollback(),
	)
	defer drv.AssertConsumed(t)

	if err := migrate(context.Background(), db, files); err == nil {
		t.Fatalf("expected migration failure")
	}
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		t.Fatalf("load embedded migrations: %v", err)
	}
	if len(files) < 2 || files[0].version != "0001" {
		t.Fatalf("unexpected migrations: %+v", files)
	}
	for _, f := range files {
		if len(f.statements) == 0 {
			t.Fatalf("migration %s has no statements", f.name)
		}
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

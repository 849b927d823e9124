package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"CoSign-Chain/internal/transfer"
)

func seedStore(t *testing.T, store *MemoryStore, base time.Time) {
	t.Helper()
	ctx := context.Background()

	register := transfer.Request{Action: transfer.ActionRegister, Sender: testAddr(3)}
	jobs := []*Job{
		{ID: "j1", Request: transferRequest(10), MaxRetries: 3},
		{ID: "j2", Request: transferRequest(20), MaxRetries: 3},
		{ID: "j3", Request: register, MaxRetries: 3},
	}
	for _, job := range jobs {
		job.Status = StatusPending
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("create job %s: %v", job.ID, err)
		}
	}

	if err := store.MarkFailed(ctx, "j2", string(CodeJobProcessing), "node timeout", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "j3", &transfer.Outcome{Hash: "0xfeed", State: "CONFIRMED"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.jobs["j1"].UpdatedAt = base.Unix()
	store.jobs["j2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["j3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Minute)
	seedStore(t, store, base)

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(all))
	}
	if all[0].ID != "j3" {
		t.Fatalf("expected newest job first, got %s", all[0].ID)
	}

	asc, err := store.List(ctx, WithSortOrder(SortByUpdatedAsc), WithLimit(1), WithOffset(1))
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}
	if len(asc) != 1 || asc[0].ID != "j2" {
		t.Fatalf("unexpected page: %+v", asc)
	}

	failed, err := store.List(ctx, WithStatuses(StatusFailed, "bogus"))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "j2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	withResult, err := store.List(ctx, WithResultPresence(true))
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(withResult) != 1 || withResult[0].Result.Hash != "0xfeed" {
		t.Fatalf("unexpected result list: %+v", withResult)
	}

	registrations, err := store.List(ctx, WithActions(transfer.ActionRegister))
	if err != nil {
		t.Fatalf("list by action: %v", err)
	}
	if len(registrations) != 1 || registrations[0].ID != "j3" {
		t.Fatalf("unexpected action list: %+v", registrations)
	}

	bySender, err := store.List(ctx, WithSender(testAddr(1)))
	if err != nil {
		t.Fatalf("list by sender: %v", err)
	}
	if len(bySender) != 2 {
		t.Fatalf("expected 2 jobs for sender, got %d", len(bySender))
	}

	recent, err := store.List(ctx, WithUpdatedSince(base.Add(15*time.Second)))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 jobs to match since filter, got %d", len(recent))
	}

	searched, err := store.List(ctx, WithQuery("TIMEOUT"))
	if err != nil {
		t.Fatalf("list query: %v", err)
	}
	if len(searched) != 1 || searched[0].ID != "j2" {
		t.Fatalf("unexpected query result: %+v", searched)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Minute)
	seedStore(t, store, base)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestUpdatedAt != base.Unix() || stats.NewestUpdatedAt != base.Add(60*time.Second).Unix() {
		t.Fatalf("unexpected time range: %+v", stats)
	}

	filtered, err := store.Stats(ctx, WithActions(transfer.ActionTransfer))
	if err != nil {
		t.Fatalf("filtered stats: %v", err)
	}
	if filtered.Total != 2 {
		t.Fatalf("expected 2 transfer jobs, got %+v", filtered)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Job{ID: "j1", Request: transferRequest(10), Status: StatusPending, MaxRetries: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Job{ID: "j1"}); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	job, err := store.Claim(ctx, "j1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.Status != StatusRunning || job.Attempts != 1 {
		t.Fatalf("unexpected claimed job: %+v", job)
	}
	if _, err := store.Claim(ctx, "j1"); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict while running, got %v", err)
	}

	if err := store.MarkFailed(ctx, "j1", "X", "retry me", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "j1"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("expected exhausted after max retries, got %v", err)
	}
	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !IsJobError(ErrJobExhausted, CodeJobExhausted) {
		t.Fatalf("IsJobError should recognise exhausted")
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Job{ID: "j1", Request: transferRequest(10), Metadata: map[string]string{"k": "v"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := store.Get(ctx, "j1")
	got.Metadata["k"] = "changed"
	got.Request.Transfers[0].Amount = 99

	again, _ := store.Get(ctx, "j1")
	if again.Metadata["k"] != "v" || again.Request.Transfers[0].Amount != 10 {
		t.Fatalf("store leaked internal state: %+v", again)
	}
}

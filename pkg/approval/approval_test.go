// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := store.Create(ctx, Request{
				RunID:      "run-1",
				FunctionID: "refund",
				Summary:    "Refund order 42",
				Payload:    json.RawMessage(`{"order":42}`),
				Approvers:  []string{"ops"},
				ExpiresAt:  time.Now().Add(time.Hour),
			})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if created.ID == "" || created.Status != StatusPending {
				t.Fatalf("unexpected record %+v", created)
			}

			found, err := store.Get(ctx, created.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if found.FunctionID != "refund" || len(found.Approvers) != 1 || string(found.Payload) != `{"order":42}` {
				t.Fatalf("unexpected record %+v", found)
			}

			approved, err := Approve(ctx, store, created.ID, "looks fine", map[string]any{"refunded": true})
			if err != nil {
				t.Fatalf("approve: %v", err)
			}
			if approved.Status != StatusApproved || approved.Reason != "looks fine" {
				t.Fatalf("unexpected approved record %+v", approved)
			}
			if string(approved.Output) != `{"refunded":true}` {
				t.Errorf("unexpected output %s", approved.Output)
			}

			if _, err := Reject(ctx, store, created.ID, "too late"); !errors.Is(err, ErrDecided) {
				t.Errorf("expected ErrDecided, got %v", err)
			}
			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			if _, err := Reject(ctx, store, "missing", ""); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			if _, err := store.Decide(ctx, created.ID, Decision{Status: StatusPending}); err == nil {
				t.Errorf("pending is not a decision")
			}
			if _, err := store.Create(ctx, Request{}); err == nil {
				t.Errorf("expected error for missing function id")
			}
		})
	}
}

func TestStoreListAndExpire(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			overdue, err := store.Create(ctx, Request{RunID: "r1", FunctionID: "f", ExpiresAt: time.Now().Add(-time.Minute)})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := store.Create(ctx, Request{RunID: "r2", FunctionID: "f", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := store.Create(ctx, Request{RunID: "r3", FunctionID: "g"}); err != nil {
				t.Fatalf("create: %v", err)
			}

			list, err := store.List(ctx, Filter{FunctionID: "f"})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("expected 2 approvals for f, got %d", len(list))
			}
			list, _ = store.List(ctx, Filter{ExpiringBefore: time.Now()})
			if len(list) != 1 || list[0].ID != overdue.ID {
				t.Fatalf("expected only the overdue approval, got %+v", list)
			}
			list, _ = store.List(ctx, Filter{Limit: 1})
			if len(list) != 1 {
				t.Fatalf("limit not applied")
			}

			expired, err := store.ExpireApprovals(ctx)
			if err != nil {
				t.Fatalf("expire: %v", err)
			}
			if expired != 1 {
				t.Fatalf("expected 1 expired, got %d", expired)
			}
			got, _ := store.Get(ctx, overdue.ID)
			if got.Status != StatusExpired {
				t.Fatalf("expected expired status, got %s", got.Status)
			}
			again, _ := store.ExpireApprovals(ctx)
			if again != 0 {
				t.Errorf("expiring twice must be a no-op")
			}
			pending, _ := store.List(ctx, Filter{Status: StatusPending})
			if len(pending) != 2 {
				t.Errorf("expected 2 pending, got %d", len(pending))
			}
		})
	}
}

type countingExpirer struct {
	calls    atomic.Int64
	deadline atomic.Int64
	ch       chan struct{}
}

func (c *countingExpirer) ExpireApprovals(ctx context.Context) (int, error) {
	c.calls.Add(1)
	if deadline, ok := ctx.Deadline(); ok {
		c.deadline.Store(deadline.UnixNano())
	}
	select {
	case c.ch <- struct{}{}:
	default:
	}
	return 1, nil
}

func TestSweeperRunsWithTimeout(t *testing.T) {
	expirer := &countingExpirer{ch: make(chan struct{}, 1)}
	sweeper := NewSweeper(10*time.Millisecond, []Expirer{expirer}, WithSweepTimeout(50*time.Millisecond))
	sweeper.Start()
	defer sweeper.Stop()

	select {
	case <-expirer.ch:
	case <-time.After(time.Second):
		t.Fatalf("expected sweeper call")
	}
	if expirer.deadline.Load() == 0 {
		t.Fatalf("expected deadline on sweep context")
	}
}

func TestSweepOnceAndDisabled(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Create(ctx, Request{FunctionID: "f", ExpiresAt: time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	sweeper := NewSweeper(0, []Expirer{store})
	sweeper.Start()
	sweeper.Stop()
	if n := sweeper.Sweep(ctx); n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
}

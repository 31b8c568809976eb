// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package approval stores the human-tier requests a person approves or rejects.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status captures the lifecycle of a human approval.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further decision can be recorded.
func (s Status) Terminal() bool {
	return s != StatusPending
}

var (
	// ErrNotFound is returned when no request matches the id.
	ErrNotFound = errors.New("approval not found")
	// ErrDecided is returned when deciding a request that is no longer pending.
	ErrDecided = errors.New("approval already decided")
)

// Request is a unit of work waiting for a human decision.
type Request struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	FunctionID string          `json:"function_id"`
	Summary    string          `json:"summary,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Approvers  []string        `json:"approvers,omitempty"`
	Status     Status          `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	// Output is the value supplied by the approver, returned as the tier result.
	Output    json.RawMessage `json:"output,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt time.Time       `json:"expires_at,omitempty"`
}

// Decision is what an approver records on a pending request.
type Decision struct {
	Status Status
	Reason string
	Output json.RawMessage
}

// Filter limits approval queries.
type Filter struct {
	RunID          string
	FunctionID     string
	Status         Status
	Limit          int
	ExpiringBefore time.Time
}

// Store persists approval requests.
type Store interface {
	Create(ctx context.Context, req Request) (*Request, error)
	Get(ctx context.Context, id string) (*Request, error)
	List(ctx context.Context, filter Filter) ([]*Request, error)
	Decide(ctx context.Context, id string, decision Decision) (*Request, error)
	// ExpireApprovals marks pending requests whose deadline has passed as expired.
	ExpireApprovals(ctx context.Context) (int, error)
}

// Approve records an approval with an optional output value.
func Approve(ctx context.Context, s Store, id, reason string, output any) (*Request, error) {
	var raw json.RawMessage
	if output != nil {
		data, err := json.Marshal(output)
		if err != nil {
			return nil, fmt.Errorf("encode output: %w", err)
		}
		raw = data
	}
	return s.Decide(ctx, id, Decision{Status: StatusApproved, Reason: reason, Output: raw})
}

// Reject records a rejection.
func Reject(ctx context.Context, s Store, id, reason string) (*Request, error) {
	return s.Decide(ctx, id, Decision{Status: StatusRejected, Reason: reason})
}

func prepare(req *Request, now time.Time) error {
	if req.FunctionID == "" {
		return fmt.Errorf("function_id is required")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = StatusPending
	}
	if !req.Status.Valid() {
		return fmt.Errorf("invalid status %q", req.Status)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	return nil
}

func checkDecision(d Decision) error {
	switch d.Status {
	case StatusApproved, StatusRejected, StatusExpired:
		return nil
	}
	return fmt.Errorf("invalid decision %q", d.Status)
}

// MemoryStore keeps approvals in memory.
type MemoryStore struct {
	mu        sync.RWMutex
	approvals map[string]*Request
	now       func() time.Time
}

// NewMemoryStore creates an in-memory approval store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		approvals: make(map[string]*Request),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new approval request.
func (s *MemoryStore) Create(_ context.Context, req Request) (*Request, error) {
	if err := prepare(&req, s.now()); err != nil {
		return nil, err
	}
	copied := clone(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.approvals[req.ID]; exists {
		return nil, fmt.Errorf("approval %q already exists", req.ID)
	}
	s.approvals[req.ID] = copied
	return clone(copied), nil
}

// Get returns an approval request by id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Request, error) {
	s.mu.RLock()
	req, ok := s.approvals[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("approval %q: %w", id, ErrNotFound)
	}
	return clone(req), nil
}

// List returns approvals matching the filter, most recently updated first.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*Request, error) {
	s.mu.RLock()
	out := make([]*Request, 0)
	for _, req := range s.approvals {
		if filter.RunID != "" && req.RunID != filter.RunID {
			continue
		}
		if filter.FunctionID != "" && req.FunctionID != filter.FunctionID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if !filter.ExpiringBefore.IsZero() {
			if req.ExpiresAt.IsZero() || req.ExpiresAt.After(filter.ExpiringBefore) {
				continue
			}
		}
		out = append(out, clone(req))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Decide records a decision on a pending request.
func (s *MemoryStore) Decide(_ context.Context, id string, decision Decision) (*Request, error) {
	if err := checkDecision(decision); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval %q: %w", id, ErrNotFound)
	}
	if req.Status.Terminal() {
		return nil, fmt.Errorf("approval %q is %s: %w", id, req.Status, ErrDecided)
	}
	req.Status = decision.Status
	req.Reason = decision.Reason
	req.Output = append(json.RawMessage(nil), decision.Output...)
	req.UpdatedAt = s.now()
	return clone(req), nil
}

// ExpireApprovals expires pending requests whose deadline has passed.
func (s *MemoryStore) ExpireApprovals(_ context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for _, req := range s.approvals {
		if req.Status != StatusPending || req.ExpiresAt.IsZero() || req.ExpiresAt.After(now) {
			continue
		}
		req.Status = StatusExpired
		req.Reason = "approval deadline passed"
		req.UpdatedAt = now
		expired++
	}
	return expired, nil
}

func clone(req *Request) *Request {
	if req == nil {
		return nil
	}
	out := *req
	out.Payload = append(json.RawMessage(nil), req.Payload...)
	out.Output = append(json.RawMessage(nil), req.Output...)
	out.Approvers = append([]string(nil), req.Approvers...)
	return &out
}

package tools

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultApprovalTTL is how long a pending approval request stays valid.
	DefaultApprovalTTL = 10 * time.Minute
	// DefaultPendingLimit caps outstanding approval requests.
	DefaultPendingLimit = 10

	codeLength = 6
)

var (
	// ErrPendingLimitReached means too many approval requests are outstanding.
	ErrPendingLimitReached = errors.New("approval pending limit reached")
	// ErrRequestNotFound means no pending request matches the given code.
	ErrRequestNotFound = errors.New("approval request not found")
)

var codeAlphabet = []rune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")

// ApprovalRequest is a pending request to approve one tool.
type ApprovalRequest struct {
	Code        string    `json:"code"`
	Tool        string    `json:"tool"`
	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// PendingStore tracks approval-gated tools: outstanding requests indexed by
// code with a TTL, plus the set of tools already approved. A background
// sweep expires stale requests.
//
// With a Path set, state is persisted as JSON and refreshed from disk on
// every operation, so a run parked on an approval sees a code approved from
// another process.
type PendingStore struct {
	mu sync.Mutex

	ttl        time.Duration
	maxPending int
	now        func() time.Time

	path string

	byTool   map[string]ApprovalRequest
	byCode   map[string]string
	approved map[string]bool

	stopOnce sync.Once
	stop     chan struct{}
}

// PendingStoreOptions configures a pending store. Zero values fall back to
// defaults; Now exists for tests. An empty Path keeps state in memory only.
type PendingStoreOptions struct {
	TTL        time.Duration
	MaxPending int
	Path       string
	Now        func() time.Time
}

type pendingFile struct {
	Requests []ApprovalRequest `json:"requests"`
	Approved []string          `json:"approved"`
}

// NewPendingStore creates a pending store, loads any persisted state, and
// starts the expiry sweep.
func NewPendingStore(opts PendingStoreOptions) (*PendingStore, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}
	maxPending := opts.MaxPending
	if maxPending <= 0 {
		maxPending = DefaultPendingLimit
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	ps := &PendingStore{
		ttl:        ttl,
		maxPending: maxPending,
		now:        nowFn,
		path:       opts.Path,
		byTool:     make(map[string]ApprovalRequest),
		byCode:     make(map[string]string),
		approved:   make(map[string]bool),
		stop:       make(chan struct{}),
	}

	if err := ps.loadLocked(); err != nil {
		return nil, err
	}

	go ps.sweepLoop()

	return ps, nil
}

// Stop terminates the expiry sweep
func (ps *PendingStore) Stop() {
	ps.stopOnce.Do(func() { close(ps.stop) })
}

func (ps *PendingStore) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ps.mu.Lock()
			ps.refreshLocked()
			ps.expireLocked()
			ps.mu.Unlock()
		case <-ps.stop:
			return
		}
	}
}

func (ps *PendingStore) expireLocked() {
	now := ps.now()
	changed := false
	for tool, req := range ps.byTool {
		if now.After(req.ExpiresAt) {
			delete(ps.byTool, tool)
			delete(ps.byCode, req.Code)
			changed = true
			log.Debug().Str("tool", tool).Str("code", req.Code).Msg("Approval request expired")
		}
	}
	if changed {
		if err := ps.saveLocked(); err != nil {
			log.Warn().Err(err).Msg("Failed to persist approval state after expiry")
		}
	}
}

// Request creates (or returns the existing) pending approval request for a
// tool.
func (ps *PendingStore) Request(tool string) (ApprovalRequest, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.refreshLocked()
	ps.expireLocked()

	if req, exists := ps.byTool[tool]; exists {
		return req, nil
	}

	if len(ps.byTool) >= ps.maxPending {
		return ApprovalRequest{}, ErrPendingLimitReached
	}

	code, err := ps.generateCodeLocked()
	if err != nil {
		return ApprovalRequest{}, err
	}

	now := ps.now()
	req := ApprovalRequest{
		Code:        code,
		Tool:        tool,
		RequestedAt: now,
		ExpiresAt:   now.Add(ps.ttl),
	}
	ps.byTool[tool] = req
	ps.byCode[code] = tool

	if err := ps.saveLocked(); err != nil {
		return ApprovalRequest{}, err
	}

	log.Info().Str("tool", tool).Str("code", code).Msg("Approval requested")
	return req, nil
}

// Approve resolves a pending request by code and marks its tool approved.
func (ps *PendingStore) Approve(code string) (string, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.refreshLocked()
	ps.expireLocked()

	tool, exists := ps.byCode[code]
	if !exists {
		return "", ErrRequestNotFound
	}

	delete(ps.byCode, code)
	delete(ps.byTool, tool)
	ps.approved[tool] = true

	if err := ps.saveLocked(); err != nil {
		return "", err
	}

	log.Info().Str("tool", tool).Str("code", code).Msg("Tool approved")
	return tool, nil
}

// Deny discards a pending request by code without approving its tool.
func (ps *PendingStore) Deny(code string) (string, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.refreshLocked()

	tool, exists := ps.byCode[code]
	if !exists {
		return "", ErrRequestNotFound
	}

	delete(ps.byCode, code)
	delete(ps.byTool, tool)

	if err := ps.saveLocked(); err != nil {
		return "", err
	}

	log.Info().Str("tool", tool).Str("code", code).Msg("Approval denied")
	return tool, nil
}

// IsApproved reports whether a tool has been approved
func (ps *PendingStore) IsApproved(tool string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.refreshLocked()
	return ps.approved[tool]
}

// Pending returns the outstanding requests, oldest first
func (ps *PendingStore) Pending() []ApprovalRequest {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.refreshLocked()
	ps.expireLocked()

	requests := make([]ApprovalRequest, 0, len(ps.byTool))
	for _, req := range ps.byTool {
		requests = append(requests, req)
	}
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].RequestedAt.Before(requests[j].RequestedAt)
	})
	return requests
}

// Approved returns the approved tools, sorted by name
func (ps *PendingStore) Approved() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.refreshLocked()

	approved := make([]string, 0, len(ps.approved))
	for tool := range ps.approved {
		approved = append(approved, tool)
	}
	sort.Strings(approved)
	return approved
}

// refreshLocked rereads persisted state so approvals from other processes
// become visible. The state file is small enough that a full reload per
// operation beats chasing filesystem timestamp granularity.
func (ps *PendingStore) refreshLocked() {
	if ps.path == "" {
		return
	}
	if err := ps.loadLocked(); err != nil {
		log.Warn().Err(err).Str("path", ps.path).Msg("Failed to reload approval state")
	}
}

func (ps *PendingStore) loadLocked() error {
	ps.byTool = make(map[string]ApprovalRequest)
	ps.byCode = make(map[string]string)
	ps.approved = make(map[string]bool)
	if ps.path == "" {
		return nil
	}

	data, err := os.ReadFile(ps.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read approval state file: %w", err)
	}

	var state pendingFile
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse approval state file: %w", err)
	}

	for _, req := range state.Requests {
		if req.Tool == "" || req.Code == "" {
			continue
		}
		ps.byTool[req.Tool] = req
		ps.byCode[req.Code] = req.Tool
	}
	for _, tool := range state.Approved {
		if tool == "" {
			continue
		}
		ps.approved[tool] = true
	}

	return nil
}

func (ps *PendingStore) saveLocked() error {
	if ps.path == "" {
		return nil
	}

	state := pendingFile{
		Requests: make([]ApprovalRequest, 0, len(ps.byTool)),
		Approved: make([]string, 0, len(ps.approved)),
	}
	for _, req := range ps.byTool {
		state.Requests = append(state.Requests, req)
	}
	sort.Slice(state.Requests, func(i, j int) bool {
		return state.Requests[i].RequestedAt.Before(state.Requests[j].RequestedAt)
	})
	for tool := range ps.approved {
		state.Approved = append(state.Approved, tool)
	}
	sort.Strings(state.Approved)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(ps.path), 0700); err != nil {
		return err
	}
	tmp := ps.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, ps.path)
}

func (ps *PendingStore) generateCodeLocked() (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		code := make([]rune, codeLength)
		for i := range code {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
			if err != nil {
				return "", fmt.Errorf("failed to generate approval code: %w", err)
			}
			code[i] = codeAlphabet[n.Int64()]
		}
		if _, taken := ps.byCode[string(code)]; !taken {
			return string(code), nil
		}
	}
	return "", fmt.Errorf("failed to generate unique approval code")
}

// Package ask manages cross-cycle awaitable human-decision requests.
// An ask is opened with a question, optional finite options, a deadline,
// and scope ids; it resolves exactly once, by an external answer or by
// timeout, and a second resolution returns the already-settled result.
package ask

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout applies when a request does not carry its own.
const DefaultTimeout = 5 * time.Minute

// settledLimit caps how many settled results are retained for re-reads.
// Past the cap the oldest settled result is forgotten and its id behaves
// like one that was never opened.
const settledLimit = 256

// ErrUnknownRequest is returned when a request id was never opened.
var ErrUnknownRequest = errors.New("unknown ask request")

// ErrNoMatch is returned when no pending ask matches a scope.
var ErrNoMatch = errors.New("no pending ask matches scope")

// Request describes a human decision to ask for.
type Request struct {
	// Question is the prompt shown to the human. Required.
	Question string
	// Options is an optional finite answer list.
	Options []string
	// Context is optional free text shown alongside the question.
	Context string
	// Scope ids; any subset may be set.
	AgentID    string
	SessionID  string
	WorkflowID string
	EpicID     string
	// Timeout overrides the manager default when positive.
	Timeout time.Duration
}

// PendingAsk is an open request awaiting resolution.
type PendingAsk struct {
	RequestID  string
	Question   string
	Options    []string
	Context    string
	AgentID    string
	SessionID  string
	WorkflowID string
	EpicID     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Result is the single settled outcome of an ask.
type Result struct {
	RequestID string
	// OK is true when the ask was answered before its deadline.
	OK bool
	// TimedOut is true when the deadline fired first.
	TimedOut bool
	// Answer is the raw answer text.
	Answer string
	// SelectedIndex is the matched 1-based option index, 0 when the
	// answer matched no option.
	SelectedIndex int
	// SelectedOption is the matched option label.
	SelectedOption string
}

// Scope selects pending asks for resolution. Any single set field
// matches; RequestID takes precedence when present.
type Scope struct {
	RequestID  string
	AgentID    string
	SessionID  string
	WorkflowID string
	EpicID     string
}

type entry struct {
	ask   PendingAsk
	ch    chan Result
	timer *time.Timer
}

// Manager owns the pending-ask set.
type Manager struct {
	defaultTimeout time.Duration

	mu           sync.Mutex
	pending      map[string]*entry
	settled      map[string]Result
	settledOrder []string
}

// NewManager creates a Manager. A non-positive defaultTimeout falls back
// to DefaultTimeout.
func NewManager(defaultTimeout time.Duration) *Manager {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Manager{
		defaultTimeout: defaultTimeout,
		pending:        make(map[string]*entry),
		settled:        make(map[string]Result),
	}
}

// Open validates and registers a request, arms its timeout, and returns
// the pending record plus a channel that receives the single Result.
func (m *Manager) Open(req Request) (PendingAsk, <-chan Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return PendingAsk{}, nil, fmt.Errorf("ask question must not be empty")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	now := time.Now()
	ask := PendingAsk{
		RequestID:  uuid.New().String(),
		Question:   strings.TrimSpace(req.Question),
		Options:    normalizeOptions(req.Options),
		Context:    req.Context,
		AgentID:    req.AgentID,
		SessionID:  req.SessionID,
		WorkflowID: req.WorkflowID,
		EpicID:     req.EpicID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(timeout),
	}

	e := &entry{
		ask: ask,
		ch:  make(chan Result, 1),
	}
	e.timer = time.AfterFunc(timeout, func() {
		m.finalize(ask.RequestID, Result{
			RequestID: ask.RequestID,
			TimedOut:  true,
		})
	})

	m.mu.Lock()
	m.pending[ask.RequestID] = e
	m.mu.Unlock()
	return ask, e.ch, nil
}

// ResolveByRequestID settles the ask with the given answer. Resolving an
// already-settled ask is a no-op returning the original result; an id
// that was never opened is an error.
func (m *Manager) ResolveByRequestID(requestID, answer string) (Result, error) {
	m.mu.Lock()
	_, isPending := m.pending[requestID]
	settled, isSettled := m.settled[requestID]
	var options []string
	if isPending {
		options = m.pending[requestID].ask.Options
	}
	m.mu.Unlock()

	if isSettled {
		return settled, nil
	}
	if !isPending {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}

	res := Result{RequestID: requestID, OK: true, Answer: answer}
	res.SelectedIndex, res.SelectedOption = matchOption(answer, options)
	return m.finalize(requestID, res), nil
}

// ResolveOldestByScope settles the oldest pending ask matching the scope.
// Oldest means earliest createdAt.
func (m *Manager) ResolveOldestByScope(scope Scope, answer string) (Result, error) {
	m.mu.Lock()
	var oldest *entry
	for _, e := range m.pending {
		if !scope.matches(e.ask) {
			continue
		}
		if oldest == nil || e.ask.CreatedAt.Before(oldest.ask.CreatedAt) {
			oldest = e
		}
	}
	m.mu.Unlock()

	if oldest == nil {
		return Result{}, ErrNoMatch
	}
	return m.ResolveByRequestID(oldest.ask.RequestID, answer)
}

// Get returns the pending ask with the given id, if it is still open.
func (m *Manager) Get(requestID string) (PendingAsk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pending[requestID]
	if !ok {
		return PendingAsk{}, false
	}
	return e.ask, true
}

// ListPending returns the open asks, oldest first.
func (m *Manager) ListPending() []PendingAsk {
	m.mu.Lock()
	defer m.mu.Unlock()

	asks := make([]PendingAsk, 0, len(m.pending))
	for _, e := range m.pending {
		asks = append(asks, e.ask)
	}
	sortByCreatedAt(asks)
	return asks
}

// finalize settles an ask exactly once: the first caller removes it from
// the pending set, records the result, and delivers it; later callers get
// the recorded result back.
func (m *Manager) finalize(requestID string, res Result) Result {
	m.mu.Lock()
	if prev, ok := m.settled[requestID]; ok {
		m.mu.Unlock()
		return prev
	}
	e, ok := m.pending[requestID]
	if !ok {
		m.mu.Unlock()
		return res
	}
	delete(m.pending, requestID)
	m.settled[requestID] = res
	m.settledOrder = append(m.settledOrder, requestID)
	for len(m.settledOrder) > settledLimit {
		delete(m.settled, m.settledOrder[0])
		m.settledOrder = m.settledOrder[1:]
	}
	m.mu.Unlock()

	e.timer.Stop()
	e.ch <- res
	return res
}

func (s Scope) matches(ask PendingAsk) bool {
	switch {
	case s.RequestID != "":
		return s.RequestID == ask.RequestID
	case s.AgentID != "":
		return s.AgentID == ask.AgentID
	case s.SessionID != "":
		return s.SessionID == ask.SessionID
	case s.WorkflowID != "":
		return s.WorkflowID == ask.WorkflowID
	case s.EpicID != "":
		return s.EpicID == ask.EpicID
	default:
		return false
	}
}

// normalizeOptions trims whitespace, drops empties, and dedupes
// case-insensitively while preserving first-seen order.
func normalizeOptions(options []string) []string {
	if len(options) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(options))
	out := make([]string, 0, len(options))
	for _, opt := range options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		key := strings.ToLower(opt)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, opt)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// matchOption maps a raw answer to an option: an in-range 1-based index,
// or a case-insensitive label match. Returns (0, "") when nothing matches.
func matchOption(answer string, options []string) (int, string) {
	if len(options) == 0 {
		return 0, ""
	}
	trimmed := strings.TrimSpace(answer)
	if n, err := strconv.Atoi(trimmed); err == nil && n >= 1 && n <= len(options) {
		return n, options[n-1]
	}
	for i, opt := range options {
		if strings.EqualFold(trimmed, opt) {
			return i + 1, opt
		}
	}
	return 0, ""
}

func sortByCreatedAt(asks []PendingAsk) {
	sort.Slice(asks, func(i, j int) bool {
		return asks[i].CreatedAt.Before(asks[j].CreatedAt)
	})
}

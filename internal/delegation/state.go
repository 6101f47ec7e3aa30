package delegation

import (
	"sort"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Status of one sub-agent invocation.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ToolCallStatus tracks a tool call made inside a sub-agent.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

// Invocation is the record of one task tool call, keyed by the parent's
// tool-call id.
type Invocation struct {
	ParentID    string                    `json:"parent_id"`
	Agent       string                    `json:"agent"`
	Description string                    `json:"description"`
	Status      Status                    `json:"status"`
	Messages    []*schema.Message         `json:"messages"`
	ToolCalls   map[string]ToolCallStatus `json:"tool_calls"`
	Result      string                    `json:"result,omitempty"`
	Error       string                    `json:"error,omitempty"`
	StartedAt   time.Time                 `json:"started_at"`
	FinishedAt  time.Time                 `json:"finished_at,omitempty"`

	seen map[string]struct{}
}

func newInvocation(parentID, agent, description string) *Invocation {
	return &Invocation{
		ParentID:    parentID,
		Agent:       agent,
		Description: description,
		Status:      StatusRunning,
		ToolCalls:   map[string]ToolCallStatus{},
		StartedAt:   time.Now().UTC(),
		seen:        map[string]struct{}{},
	}
}

// Observe folds one message into the record. It returns false when the
// message id was already seen. Tool calls on assistant messages become
// pending; a tool result marks its call completed, and a completed call is
// never moved back to pending.
func (inv *Invocation) Observe(m *schema.Message) bool {
	if m == nil {
		return false
	}
	id := MessageID(m)
	if _, dup := inv.seen[id]; dup {
		return false
	}
	inv.seen[id] = struct{}{}
	inv.Messages = append(inv.Messages, m)

	switch m.Role {
	case schema.Assistant:
		for _, tc := range m.ToolCalls {
			if tc.ID == "" {
				continue
			}
			if _, known := inv.ToolCalls[tc.ID]; !known {
				inv.ToolCalls[tc.ID] = ToolCallPending
			}
		}
	case schema.Tool:
		if m.ToolCallID != "" {
			inv.ToolCalls[m.ToolCallID] = ToolCallCompleted
		}
	}
	return true
}

func (inv *Invocation) finish(result string) {
	inv.Status = StatusCompleted
	inv.Result = result
	inv.FinishedAt = time.Now().UTC()
}

// fail marks the invocation failed and every still-pending call with it.
func (inv *Invocation) fail(err error) {
	inv.Status = StatusFailed
	inv.Error = err.Error()
	inv.FinishedAt = time.Now().UTC()
	for id, st := range inv.ToolCalls {
		if st == ToolCallPending {
			inv.ToolCalls[id] = ToolCallFailed
		}
	}
}

// clone copies everything observers may read. Messages themselves are
// shared and must be treated as read-only.
func (inv *Invocation) clone() Invocation {
	out := *inv
	out.seen = nil
	out.Messages = append([]*schema.Message(nil), inv.Messages...)
	out.ToolCalls = make(map[string]ToolCallStatus, len(inv.ToolCalls))
	for k, v := range inv.ToolCalls {
		out.ToolCalls[k] = v
	}
	return out
}

// Update is published to subscribers after every merge.
type Update struct {
	ParentID  string                    `json:"parent_id"`
	Agent     string                    `json:"agent"`
	Status    Status                    `json:"status"`
	Messages  int                       `json:"messages"`
	ToolCalls map[string]ToolCallStatus `json:"tool_calls"`
	Error     string                    `json:"error,omitempty"`
	At        time.Time                 `json:"at"`
}

// State is the shared view of every sub-agent invocation of a run. The host
// runtime may execute several task calls in parallel, so all access is
// serialized.
type State struct {
	mu          sync.RWMutex
	invocations map[string]*Invocation
	subs        map[int]chan Update
	nextSub     int
}

func NewState() *State {
	return &State{invocations: map[string]*Invocation{}, subs: map[int]chan Update{}}
}

// Merge stores a copy of inv under its parent id and notifies subscribers.
// Slow subscribers miss updates rather than block the run.
func (s *State) Merge(inv *Invocation) {
	c := inv.clone()
	s.mu.Lock()
	s.invocations[c.ParentID] = &c
	u := Update{
		ParentID:  c.ParentID,
		Agent:     c.Agent,
		Status:    c.Status,
		Messages:  len(c.Messages),
		ToolCalls: c.ToolCalls,
		Error:     c.Error,
		At:        time.Now().UTC(),
	}
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
	s.mu.Unlock()
}

// Invocation returns a copy of the record for parentID.
func (s *State) Invocation(parentID string) (Invocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invocations[parentID]
	if !ok {
		return Invocation{}, false
	}
	return inv.clone(), true
}

// Snapshot returns copies of all invocations ordered by start time.
func (s *State) Snapshot() []Invocation {
	s.mu.RLock()
	out := make([]Invocation, 0, len(s.invocations))
	for _, inv := range s.invocations {
		out = append(out, inv.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ParentID < out[j].ParentID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Subscribe returns a channel of updates and a cancel func that closes it.
func (s *State) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Update, buffer)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

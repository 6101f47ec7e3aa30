package budget

import (
	"fmt"
	"sync"
	"time"
)

// ErrExceeded is returned when usage surpasses the configured limit.
type ErrExceeded struct {
	Kind  string
	Usage string
	Limit string
}

func (e ErrExceeded) Error() string {
	return fmt.Sprintf("budget %s exceeded: usage=%s limit=%s", e.Kind, e.Usage, e.Limit)
}

// Monitor tracks the tokens a run has used against a cap.
type Monitor struct {
	maxTokens  int64
	tokensUsed int64
	startTime  time.Time
	mu         sync.Mutex
}

// NewMonitor returns nil when maxTokens is not positive; a nil *Monitor
// never reports a breach.
func NewMonitor(maxTokens int64) *Monitor {
	if maxTokens <= 0 {
		return nil
	}
	return &Monitor{maxTokens: maxTokens, startTime: time.Now()}
}

// Observe records the run's running token total. Totals only grow, so a
// lower value than already seen is ignored.
func (m *Monitor) Observe(total int64) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if total > m.tokensUsed {
		m.tokensUsed = total
	}
	if m.tokensUsed > m.maxTokens {
		return ErrExceeded{
			Kind:  "tokens",
			Usage: fmt.Sprintf("%d tokens", m.tokensUsed),
			Limit: fmt.Sprintf("%d tokens", m.maxTokens),
		}
	}
	return nil
}

// Usage returns the accumulated tokens and the time since the monitor started.
func (m *Monitor) Usage() (tokens int64, elapsed time.Duration) {
	if m == nil {
		return 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokensUsed, time.Since(m.startTime)
}

// Limit returns the token cap, 0 for a nil monitor.
func (m *Monitor) Limit() int64 {
	if m == nil {
		return 0
	}
	return m.maxTokens
}

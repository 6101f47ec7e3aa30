// Package runs executes paper runs in the background, keeps their status and
// event log, and persists both when a store is configured.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/paperflow/internal/logging"
	"github.com/mohammad-safakhou/paperflow/internal/store"
	"github.com/mohammad-safakhou/paperflow/internal/telemetry"
)

type Kind string

const (
	KindOrchestrated Kind = "orchestrated"
	KindWorkflow     Kind = "workflow"
)

// Event types.
const (
	EventStatus     = "status"
	EventAgent      = "agent"
	EventDelegation = "delegation"
	EventStage      = "stage"
)

var (
	ErrNotFound       = errors.New("run not found")
	ErrUnknownKind    = errors.New("unknown run kind")
	ErrInvalidRequest = errors.New("invalid run request")
	ErrShutdown       = errors.New("run service is shutting down")
)

// Request starts a run.
type Request struct {
	Kind            Kind   `json:"kind"`
	Request         string `json:"request"`
	Name            string `json:"name,omitempty"`
	DataDescription string `json:"data_description,omitempty"`
	Resume          bool   `json:"resume,omitempty"`
}

type Run struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Request    string          `json:"request"`
	Status     string          `json:"status"`
	Params     Request         `json:"params"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Terminal reports whether the run has finished.
func (r *Run) Terminal() bool {
	switch r.Status {
	case store.StatusCompleted, store.StatusFailed, store.StatusCancelled:
		return true
	}
	return false
}

type Event struct {
	Seq     int64           `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Emitter records an event for the current run.
type Emitter func(eventType string, payload any)

// Executor performs one kind of run and returns its result document.
type Executor interface {
	Execute(ctx context.Context, runID string, req Request, emit Emitter) (any, error)
}

// Store is the persistence used by the service; *store.Store satisfies it.
type Store interface {
	CreateRun(ctx context.Context, rec store.RunRecord) error
	MarkRunStarted(ctx context.Context, runID string) error
	FinishRun(ctx context.Context, runID, status string, result json.RawMessage, errMsg *string) error
	GetRun(ctx context.Context, runID string) (store.RunRecord, bool, error)
	AppendEvent(ctx context.Context, ev store.EventRecord) error
	ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.EventRecord, error)
	FailInterruptedRuns(ctx context.Context) (int64, error)
}

type entry struct {
	run     Run
	events  []Event
	subs    map[int]chan Event
	nextSub int
	done    chan struct{}
	cancel  context.CancelFunc
}

type Service struct {
	executors map[Kind]Executor
	store     Store
	sem       chan struct{}
	timeout   time.Duration
	tele      *telemetry.Telemetry
	logger    *zap.Logger

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	runs   map[string]*entry
	closed bool
}

type Option func(*Service)

func WithStore(st Store) Option { return func(s *Service) { s.store = st } }

// WithMaxConcurrent bounds the number of runs executing at once; the rest wait queued.
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func WithTelemetry(t *telemetry.Telemetry) Option { return func(s *Service) { s.tele = t } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(executors map[Kind]Executor, opts ...Option) *Service {
	ctx, stop := context.WithCancel(context.Background())
	s := &Service{
		executors: executors,
		sem:       make(chan struct{}, 2),
		ctx:       ctx,
		stop:      stop,
		runs:      make(map[string]*entry),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = logging.OrNop(s.logger).Named("runs")
	return s
}

// Recover fails the runs a previous process left unfinished.
func (s *Service) Recover(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	n, err := s.store.FailInterruptedRuns(ctx)
	if err != nil {
		return fmt.Errorf("recover runs: %w", err)
	}
	if n > 0 {
		s.logger.Warn("marked interrupted runs as failed", zap.Int64("runs", n))
	}
	return nil
}

// Start queues a run and returns immediately.
func (s *Service) Start(ctx context.Context, req Request) (*Run, error) {
	req.Request = strings.TrimSpace(req.Request)
	if req.Request == "" {
		return nil, fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}
	if req.Kind == "" {
		req.Kind = KindOrchestrated
	}
	exec, ok := s.executors[req.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}

	run := Run{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Request:   req.Request,
		Status:    store.StatusQueued,
		Params:    req,
		CreatedAt: time.Now().UTC(),
	}
	if s.store != nil {
		params, err := sonic.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("encode run params: %w", err)
		}
		if err := s.store.CreateRun(ctx, store.RunRecord{ID: run.ID, Kind: string(run.Kind), Request: run.Request, Status: run.Status, Params: params}); err != nil {
			return nil, fmt.Errorf("persist run: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	e := &entry{run: run, subs: map[int]chan Event{}, done: make(chan struct{}), cancel: cancel}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, ErrShutdown
	}
	s.runs[run.ID] = e
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("run queued", zap.String("run_id", run.ID), zap.String("kind", string(run.Kind)))
	go s.execute(runCtx, e, exec)
	out := run
	return &out, nil
}

func (s *Service) execute(ctx context.Context, e *entry, exec Executor) {
	defer s.wg.Done()
	defer e.cancel()
	id := e.run.ID
	emit := func(typ string, payload any) { s.emit(e, typ, payload) }

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		s.finish(e, nil, ctx.Err())
		return
	}

	started := time.Now().UTC()
	s.mu.Lock()
	e.run.Status = store.StatusRunning
	e.run.StartedAt = &started
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.MarkRunStarted(context.WithoutCancel(ctx), id); err != nil {
			s.logger.Warn("persist run start", zap.String("run_id", id), zap.Error(err))
		}
	}
	emit(EventStatus, map[string]string{"status": store.StatusRunning})

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	result, err := s.safeExecute(ctx, exec, e.run.Params, id, emit)
	s.finish(e, result, err)
}

func (s *Service) safeExecute(ctx context.Context, exec Executor, req Request, id string, emit Emitter) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()
	return exec.Execute(ctx, id, req, emit)
}

func (s *Service) finish(e *entry, result any, runErr error) {
	status := store.StatusCompleted
	var errMsg *string
	if runErr != nil {
		status = store.StatusFailed
		if errors.Is(runErr, context.Canceled) {
			status = store.StatusCancelled
		}
		msg := runErr.Error()
		errMsg = &msg
	}
	var raw json.RawMessage
	if result != nil {
		b, err := sonic.Marshal(result)
		if err != nil {
			s.logger.Warn("encode run result", zap.String("run_id", e.run.ID), zap.Error(err))
		} else {
			raw = b
		}
	}

	finished := time.Now().UTC()
	s.mu.Lock()
	e.run.Status = status
	e.run.Result = raw
	if errMsg != nil {
		e.run.Error = *errMsg
	}
	e.run.FinishedAt = &finished
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.FinishRun(context.Background(), e.run.ID, status, raw, errMsg); err != nil {
			s.logger.Warn("persist run finish", zap.String("run_id", e.run.ID), zap.Error(err))
		}
	}
	payload := map[string]string{"status": status}
	if errMsg != nil {
		payload["error"] = *errMsg
	}
	s.emit(e, EventStatus, payload)

	s.mu.Lock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	close(e.done)
	s.mu.Unlock()

	var d time.Duration
	if e.run.StartedAt != nil {
		d = finished.Sub(*e.run.StartedAt)
	}
	s.tele.RecordRun(string(e.run.Kind), status, d)
	s.logger.Info("run finished", zap.String("run_id", e.run.ID), zap.String("status", status), zap.Duration("duration", d))
}

// emit appends an event, fans it out to subscribers and persists it. A
// subscriber that cannot keep up misses live events and can catch up from
// the log by sequence number.
func (s *Service) emit(e *entry, typ string, payload any) {
	raw, err := sonic.Marshal(payload)
	if err != nil {
		s.logger.Warn("encode event", zap.String("type", typ), zap.Error(err))
		return
	}
	s.mu.Lock()
	ev := Event{Seq: int64(len(e.events)) + 1, Type: typ, Payload: raw, At: time.Now().UTC()}
	e.events = append(e.events, ev)
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("subscriber lagging; event dropped", zap.String("run_id", e.run.ID), zap.Int64("seq", ev.Seq))
		}
	}
	s.mu.Unlock()

	if s.store != nil {
		rec := store.EventRecord{RunID: e.run.ID, Seq: ev.Seq, Type: ev.Type, Payload: ev.Payload}
		if err := s.store.AppendEvent(context.Background(), rec); err != nil {
			s.logger.Warn("persist event", zap.String("run_id", e.run.ID), zap.Error(err))
		}
	}
}

// Get returns a run from memory, or from the store for runs of earlier processes.
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	e, ok := s.runs[id]
	if ok {
		out := e.run
		s.mu.RUnlock()
		return &out, nil
	}
	s.mu.RUnlock()
	if s.store == nil {
		return nil, ErrNotFound
	}
	rec, found, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return fromRecord(rec), nil
}

func fromRecord(rec store.RunRecord) *Run {
	run := &Run{
		ID:         rec.ID,
		Kind:       Kind(rec.Kind),
		Request:    rec.Request,
		Status:     rec.Status,
		Result:     rec.Result,
		Error:      rec.Error,
		CreatedAt:  rec.CreatedAt,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
	if len(rec.Params) > 0 {
		_ = sonic.Unmarshal(rec.Params, &run.Params)
	}
	return run
}

// Events returns the events of a run with seq greater than afterSeq.
func (s *Service) Events(ctx context.Context, id string, afterSeq int64) ([]Event, error) {
	s.mu.RLock()
	e, ok := s.runs[id]
	if ok {
		out := since(e.events, afterSeq)
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()
	if s.store == nil {
		return nil, ErrNotFound
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	recs, err := s.store.ListEvents(ctx, id, afterSeq)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(recs))
	for _, r := range recs {
		out = append(out, Event{Seq: r.Seq, Type: r.Type, Payload: r.Payload, At: r.CreatedAt})
	}
	return out, nil
}

func since(events []Event, afterSeq int64) []Event {
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(events)) {
		return nil
	}
	return append([]Event(nil), events[afterSeq:]...)
}

// Subscribe returns the backlog after afterSeq and a channel of live events.
// The channel is closed when the run finishes or cancel is called; for a run
// that already finished it is returned closed.
func (s *Service) Subscribe(ctx context.Context, id string, afterSeq int64) ([]Event, <-chan Event, func(), error) {
	s.mu.Lock()
	e, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		backlog, err := s.Events(ctx, id, afterSeq)
		if err != nil {
			return nil, nil, nil, err
		}
		ch := make(chan Event)
		close(ch)
		return backlog, ch, func() {}, nil
	}
	backlog := since(e.events, afterSeq)
	ch := make(chan Event, 256)
	select {
	case <-e.done:
		close(ch)
		s.mu.Unlock()
		return backlog, ch, func() {}, nil
	default:
	}
	sub := e.nextSub
	e.nextSub++
	e.subs[sub] = ch
	s.mu.Unlock()

	return backlog, ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := e.subs[sub]; ok {
			delete(e.subs, sub)
			close(c)
		}
	}, nil
}

// Wait blocks until the run finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	e, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return s.Get(ctx, id)
	}
	select {
	case <-e.done:
		return s.Get(ctx, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops a queued or running run.
func (s *Service) Cancel(id string) error {
	s.mu.RLock()
	e, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	e.cancel()
	return nil
}

// List returns the runs known to this process, newest first.
func (s *Service) List() []Run {
	s.mu.RLock()
	out := make([]Run, 0, len(s.runs))
	for _, e := range s.runs {
		out = append(out, e.run)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Shutdown cancels every run and waits for them to finish or ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

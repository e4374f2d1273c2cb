package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/telellm/telellm/internal/telegram"
)

// Lifecycle errors.
var (
	ErrNoCredential        = errors.New("bot: no transport credential configured")
	ErrAlreadyRunning      = errors.New("bot: already running")
	ErrStopInFlight        = errors.New("bot: a previous stop is still in flight")
	ErrShutdownTimeout     = errors.New("bot: worker did not stop in time")
	ErrWebhookRegistration = errors.New("bot: webhook registration could not be verified")
)

// State is the supervisor lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// DeliveryMode selects how inbound events arrive.
type DeliveryMode string

const (
	ModePolling DeliveryMode = "polling"
	ModeWebhook DeliveryMode = "webhook"
)

// Transport is the receive-side surface of the bot API the supervisor uses.
type Transport interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, int64, error)
	SetWebhook(ctx context.Context, url, secret string) error
	DeleteWebhook(ctx context.Context, dropPending bool) error
	GetWebhookInfo(ctx context.Context) (*telegram.WebhookInfo, error)
}

// UpdateHandler consumes one inbound event.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd telegram.Update)
}

// SupervisorConfig carries the supervisor's tunables.
type SupervisorConfig struct {
	Token         string
	WebhookSecret string
	PollTimeout   time.Duration
	Backoff       time.Duration
	StopTimeout   time.Duration
}

// Supervisor owns exactly one active delivery mode and its start/stop state
// machine. It is a plain value held by the composition root; nothing in the
// package is a mutable singleton.
type Supervisor struct {
	transport Transport
	handler   UpdateHandler
	cfg       SupervisorConfig
	onFailure func(error)
	log       *slog.Logger

	mu     sync.Mutex
	state  State
	mode   DeliveryMode
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(transport Transport, handler UpdateHandler, cfg SupervisorConfig, onFailure func(error), logger *slog.Logger) *Supervisor {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		transport: transport,
		handler:   handler,
		cfg:       cfg,
		onFailure: onFailure,
		log:       logger,
	}
}

// IsRunning reports whether a delivery mode is active.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning
}

// Mode returns the active delivery mode, meaningful while running.
func (s *Supervisor) Mode() DeliveryMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// StartPolling launches the long-poll worker. It refuses to start while a
// previous stop is still in flight so two workers never race on one
// credential; a worker handle that already terminated is reaped first.
func (s *Supervisor) StartPolling() error {
	if s.cfg.Token == "" {
		return ErrNoCredential
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapLocked()
	switch s.state {
	case StateStopping:
		return ErrStopInFlight
	case StateRunning, StateStarting:
		return ErrAlreadyRunning
	}

	s.state = StateStarting
	s.mode = ModePolling

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.pollLoop(ctx, done)

	s.state = StateRunning
	s.log.Info("polling started", "timeout", s.cfg.PollTimeout)
	return nil
}

// reapLocked garbage-collects a worker handle whose goroutine has already
// exited. Caller holds the mutex.
func (s *Supervisor) reapLocked() {
	if s.done == nil {
		return
	}
	select {
	case <-s.done:
		s.done = nil
		s.cancel = nil
		s.state = StateStopped
	default:
	}
}

// StartWebhook switches to push delivery: any polling worker is stopped,
// the endpoint is registered with the transport and the registration is
// verified readback-style.
func (s *Supervisor) StartWebhook(ctx context.Context, publicURL string) error {
	if s.cfg.Token == "" {
		return ErrNoCredential
	}

	if err := s.Stop(s.cfg.StopTimeout); err != nil {
		return err
	}

	if err := s.transport.DeleteWebhook(ctx, false); err != nil {
		s.log.Warn("delete previous webhook", "error", err)
	}
	if err := s.transport.SetWebhook(ctx, publicURL, s.cfg.WebhookSecret); err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookRegistration, err)
	}
	info, err := s.transport.GetWebhookInfo(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookRegistration, err)
	}
	if info.URL != publicURL {
		return fmt.Errorf("%w: registered url %q", ErrWebhookRegistration, info.URL)
	}

	s.mu.Lock()
	s.mode = ModeWebhook
	s.state = StateRunning
	s.mu.Unlock()

	s.log.Info("webhook registered", "url", publicURL)
	return nil
}

// Stop signals cancellation, which aborts any blocking receive, and joins
// the worker with a bounded wait. On timeout the internal handle is left in
// place so a later Stop can clean it once the worker actually exits.
func (s *Supervisor) Stop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cfg.StopTimeout
	}

	s.mu.Lock()
	if s.done == nil {
		// Webhook mode or idle: nothing to join.
		if s.state == StateRunning && s.mode == ModeWebhook {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := s.transport.DeleteWebhook(ctx, false); err != nil {
				s.log.Warn("deregister webhook", "error", err)
			}
			cancel()
		}
		s.state = StateStopped
		s.mu.Unlock()
		return nil
	}

	done := s.done
	if s.cancel != nil {
		s.cancel()
	}
	s.state = StateStopping
	s.mu.Unlock()

	select {
	case <-done:
		s.mu.Lock()
		s.done = nil
		s.cancel = nil
		s.state = StateStopped
		s.mu.Unlock()
		s.log.Info("worker stopped")
		return nil
	case <-time.After(timeout):
		s.reportFailure(ErrShutdownTimeout)
		return ErrShutdownTimeout
	}
}

// pollLoop is the supervised receive loop: any failure of a cycle is logged,
// reported and retried after a fixed backoff. The loop only exits through
// cancellation.
func (s *Supervisor) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}

		updates, next, err := s.receiveCycle(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if telegram.IsPollTimeout(err) {
				continue
			}
			s.log.Error("receive cycle failed", "error", err)
			s.reportFailure(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.Backoff):
			}
			continue
		}
		offset = next

		for _, u := range updates {
			s.dispatch(ctx, u)
		}
	}
}

// receiveCycle converts a panicking receive into an error so the supervised
// loop survives it.
func (s *Supervisor) receiveCycle(ctx context.Context, offset int64) (updates []telegram.Update, next int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = offset
			err = fmt.Errorf("receive cycle panic: %v", r)
		}
	}()
	return s.transport.GetUpdates(ctx, offset, s.cfg.PollTimeout)
}

func (s *Supervisor) dispatch(ctx context.Context, upd telegram.Update) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("update handler panic: %v", r)
			s.log.Error("update dispatch failed", "update_id", upd.UpdateID, "error", err)
			s.reportFailure(err)
		}
	}()
	s.handler.HandleUpdate(ctx, upd)
}

// HandleWebhookUpdate feeds one authenticated push delivery into the
// handler. Deliveries arriving while stopped or in polling mode are dropped.
func (s *Supervisor) HandleWebhookUpdate(ctx context.Context, upd telegram.Update) {
	s.mu.Lock()
	ok := s.state == StateRunning && s.mode == ModeWebhook
	s.mu.Unlock()
	if !ok {
		s.log.Debug("dropping webhook delivery", "update_id", upd.UpdateID)
		return
	}
	s.dispatch(ctx, upd)
}

func (s *Supervisor) reportFailure(err error) {
	if s.onFailure == nil {
		return
	}
	defer func() { _ = recover() }()
	s.onFailure(err)
}

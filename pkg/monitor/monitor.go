// Package monitor runs cancelable device polling tasks. One class of action
// completes only when a PLC bit flips; the monitor owns a poll loop per
// active action, keyed by (order, step, action), so starting, canceling, or
// switching actions has an explicit cancellation point.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/peng-cmdt/SimpleMES-sub001/pkg/gateway"
)

// Logger defines the logging interface for the Monitor.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Config holds the polling cadence. Values come from configuration, not hard
// constants; zero fields fall back to the defaults below.
type Config struct {
	PollInterval   time.Duration // cadence of device reads (default 1s)
	DefaultTimeout time.Duration // overall deadline when the action has none (default 30s)
	AdvanceGrace   time.Duration // delay between confirmation and advance (default 500ms)
	ReadTimeout    time.Duration // per-read deadline, independent of the overall one (default 3s)
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.AdvanceGrace <= 0 {
		c.AdvanceGrace = 500 * time.Millisecond
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	return c
}

// Key identifies one watched action.
type Key struct {
	OrderID  int64
	StepID   int64
	ActionID int64
}

// Target carries everything a poll loop needs to read the device and to
// build a diagnosable timeout error.
type Target struct {
	DeviceID   int64
	DeviceName string
	DeviceIP   string
	ActionName string
	Address    string
}

// TimeoutError is the structured device error surfaced when the poll loop
// exceeds its deadline. It carries device identity so an operator can check
// the hardware; it is distinct from an action validation failure.
type TimeoutError struct {
	DeviceName string `json:"device_name"`
	DeviceIP   string `json:"device_ip"`
	ActionName string `json:"action_name"`
	Message    string `json:"message"`
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("device %s (%s) did not confirm action %s: %s", e.DeviceName, e.DeviceIP, e.ActionName, e.Message)
}

// WatchState is the lifecycle state of one watch.
type WatchState string

const (
	StateNone      WatchState = "none"
	StateWatching  WatchState = "watching"
	StateConfirmed WatchState = "confirmed"
	StateTimeout   WatchState = "timeout"
	StateCancelled WatchState = "cancelled"
)

type watch struct {
	cancel     context.CancelFunc
	state      WatchState
	timeoutErr *TimeoutError
}

// Monitor owns all active poll loops. Stop cancels every loop and waits for
// them to exit; no orphaned timers keep calling the gateway afterwards.
type Monitor struct {
	gw     gateway.Client
	cfg    Config
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	wg     sync.WaitGroup

	watches map[Key]*watch
}

func New(gw gateway.Client, cfg Config, logger Logger) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		gw:      gw,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		watches: make(map[Key]*watch),
	}
}

// Watch begins polling the target's address every PollInterval. When a read
// returns value 1 the loop waits AdvanceGrace and invokes onConfirmed; if the
// deadline elapses first the loop freezes and invokes onTimeout exactly once.
// Transient read errors are swallowed and retried on the next tick.
func (m *Monitor) Watch(key Key, t Target, timeout time.Duration, onConfirmed func(), onTimeout func(TimeoutError)) error {
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}
	m.mu.Lock()
	if w, ok := m.watches[key]; ok && w.state == StateWatching {
		m.mu.Unlock()
		return fmt.Errorf("action %d of order %d already being watched", key.ActionID, key.OrderID)
	}
	ctx, cancel := context.WithCancel(m.ctx)
	w := &watch{cancel: cancel, state: StateWatching}
	m.watches[key] = w
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, key, t, timeout, onConfirmed, onTimeout)
	return nil
}

func (m *Monitor) run(ctx context.Context, key Key, t Target, timeout time.Duration, onConfirmed func(), onTimeout func(TimeoutError)) {
	defer m.wg.Done()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.setState(key, StateCancelled, nil)
			return
		case <-deadline.C:
			te := TimeoutError{
				DeviceName: t.DeviceName,
				DeviceIP:   t.DeviceIP,
				ActionName: t.ActionName,
				Message:    fmt.Sprintf("no confirmation within %s", timeout),
			}
			m.setState(key, StateTimeout, &te)
			m.logger.Errorf("Device confirmation timed out for action %s on %s", t.ActionName, t.DeviceName)
			if onTimeout != nil {
				onTimeout(te)
			}
			return
		case <-ticker.C:
			readCtx, cancelRead := context.WithTimeout(ctx, m.cfg.ReadTimeout)
			res, err := m.gw.Read(readCtx, t.DeviceID, t.Address)
			cancelRead()
			if err != nil || !res.Success {
				// Transient read failure, retry on the next tick.
				continue
			}
			if res.Value != 1 {
				continue
			}
			select {
			case <-ctx.Done():
				m.setState(key, StateCancelled, nil)
				return
			case <-time.After(m.cfg.AdvanceGrace):
			}
			m.setState(key, StateConfirmed, nil)
			m.logger.Infof("Device %s confirmed action %s", t.DeviceName, t.ActionName)
			if onConfirmed != nil {
				onConfirmed()
			}
			return
		}
	}
}

func (m *Monitor) setState(key Key, state WatchState, te *TimeoutError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watches[key]; ok {
		w.state = state
		w.timeoutErr = te
	}
}

// Cancel stops the watch for key if it is still running. It reports whether
// a running watch was found.
func (m *Monitor) Cancel(key Key) bool {
	m.mu.Lock()
	w, ok := m.watches[key]
	m.mu.Unlock()
	if !ok || w.state != StateWatching {
		return false
	}
	w.cancel()
	return true
}

// Status returns the current state of the watch for key and, when the watch
// timed out, the structured timeout error.
func (m *Monitor) Status(key Key) (WatchState, *TimeoutError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[key]
	if !ok {
		return StateNone, nil
	}
	return w.state, w.timeoutErr
}

// Stop cancels every active watch and waits for all poll loops to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

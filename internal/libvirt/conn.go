package libvirt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
)

// ErrNotConnected is returned while the agent holds no live hypervisor connection.
var ErrNotConnected = errors.New("libvirt not connected")

type dialFunc func(target *url.URL) (*golibvirt.Libvirt, error)

// ConnManager holds the agent's single hypervisor connection.
//
// Connect runs once at startup and retries until it succeeds or the agent
// shuts down. After that collectors only borrow the client; they never dial.
// The agent health loop calls Healthy on every tick and, when that fails,
// Reconnect, which makes one attempt per tick.
type ConnManager struct {
	target    *url.URL
	logger    *slog.Logger
	retryWait time.Duration
	maxJitter time.Duration
	dial      dialFunc

	mu      sync.RWMutex
	client  *golibvirt.Libvirt
	rng     *rand.Rand
	onState func(connected bool)
}

func NewConnManager(uri string, retryWait, maxJitter time.Duration, logger *slog.Logger) (*ConnManager, error) {
	target, err := parseTarget(uri)
	if err != nil {
		return nil, err
	}
	if retryWait <= 0 {
		retryWait = 3 * time.Second
	}
	return &ConnManager{
		target:    target,
		logger:    logger,
		retryWait: retryWait,
		maxJitter: max(maxJitter, 0),
		dial:      golibvirt.ConnectToURI,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// OnStateChange registers fn to hear about every connect and disconnect.
func (m *ConnManager) OnStateChange(fn func(connected bool)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// Local reports whether the hypervisor runs on this machine, in which case
// host counters describe the same node.
func (m *ConnManager) Local() bool {
	return m.target.Host == ""
}

func (m *ConnManager) Connect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.mu.Lock()
		if m.client != nil {
			m.mu.Unlock()
			return nil
		}
		err := m.dialLocked()
		wait := m.retryWait + m.jitterLocked()
		m.mu.Unlock()
		if err == nil {
			return nil
		}

		m.logger.Error("libvirt connect failed", "uri", m.target.Redacted(), "attempt", attempt, "error", err, "retry_in", wait)
		if !sleepContext(ctx, wait) {
			return ctx.Err()
		}
	}
}

// Client returns the live connection, or ErrNotConnected while the health
// loop is still recovering it.
func (m *ConnManager) Client(ctx context.Context) (*golibvirt.Libvirt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, ErrNotConnected
	}
	return m.client, nil
}

// Healthy pings the live connection without dialing a new one.
func (m *ConnManager) Healthy(ctx context.Context) error {
	c, err := m.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := c.Version(); err != nil {
		return fmt.Errorf("libvirt version check: %w", err)
	}
	return nil
}

// Reconnect drops the current connection and dials once.
func (m *ConnManager) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.dropLocked(); err != nil {
		m.logger.Warn("libvirt disconnect failed", "error", err)
	}
	if err := m.dialLocked(); err != nil {
		return fmt.Errorf("reconnect %s: %w", m.target.Redacted(), err)
	}
	return nil
}

func (m *ConnManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropLocked()
}

func (m *ConnManager) dialLocked() error {
	c, err := m.dial(m.target)
	if err != nil {
		return err
	}
	m.client = c
	m.logger.Info("libvirt connected", "uri", m.target.Redacted(), "local", m.Local())
	m.notifyLocked(true)
	return nil
}

func (m *ConnManager) dropLocked() error {
	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect()
	m.client = nil
	m.notifyLocked(false)
	return err
}

func (m *ConnManager) notifyLocked(connected bool) {
	if m.onState != nil {
		m.onState(connected)
	}
}

func (m *ConnManager) jitterLocked() time.Duration {
	if m.maxJitter == 0 {
		return 0
	}
	return time.Duration(m.rng.Int63n(int64(m.maxJitter)))
}

// parseTarget defaults an empty URI to the local system hypervisor.
func parseTarget(raw string) (*url.URL, error) {
	if raw == "" {
		raw = string(golibvirt.QEMUSystem)
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse libvirt uri %q: %w", raw, err)
	}
	if target.Scheme == "" {
		return nil, fmt.Errorf("libvirt uri %q has no scheme", raw)
	}
	return target, nil
}

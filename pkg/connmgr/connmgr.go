// Package connmgr owns the single database handle the rest of the engine
// shares: it opens the connection, reconnects after loss, probes health,
// and fast-fails callers behind a circuit breaker while the backend is
// known-bad. It is the Connection Manager described in the design as C1.
package connmgr

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ErrCircuitOpen is returned by Acquire when the breaker is fast-failing.
var ErrCircuitOpen = errors.New("connmgr: circuit open")

// ErrShutdown is returned by Acquire after Shutdown has completed.
var ErrShutdown = errors.New("connmgr: manager shut down")

const (
	defaultFailureThreshold = 5
	defaultOpenDuration     = 30 * time.Second
	defaultMaxPoolSize      = 10
	defaultMinPoolSize      = 2
	defaultIdleTimeout      = 30 * time.Second
	defaultServerSelection  = 5 * time.Second
	defaultSocketTimeout    = 45 * time.Second
	defaultRetryDelay       = 1 * time.Second
)

// connState is the connection lifecycle state machine from the design:
// Disconnected -> Connecting -> Connected. Reconnecting marks a connect
// attempt that starts while a client is already held. No driver event
// moves the manager out of Connected; only Shutdown does.
type connState int32

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateReconnecting
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config configures pool parameters and breaker thresholds. Zero values
// are replaced with the documented defaults in New.
type Config struct {
	URI                    string
	DatabaseName           string // derived from the URI path segment if empty
	MaxPoolSize            uint64
	MinPoolSize            uint64
	ConnectTimeout         time.Duration
	IdleTimeout            time.Duration
	ServerSelectionTimeout time.Duration
	SocketTimeout          time.Duration
	FailureThreshold       int
	OpenDuration           time.Duration

	// RetryDelay bounds how often a new connect attempt may be made while
	// the breaker is still closed (i.e. before FailureThreshold trips it).
	// Acquire calls within RetryDelay of the last failed attempt return
	// that failure immediately instead of dialing again.
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MinPoolSize == 0 {
		c.MinPoolSize = defaultMinPoolSize
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.ServerSelectionTimeout == 0 {
		c.ServerSelectionTimeout = defaultServerSelection
	}
	if c.SocketTimeout == 0 {
		c.SocketTimeout = defaultSocketTimeout
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.OpenDuration == 0 {
		c.OpenDuration = defaultOpenDuration
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.DatabaseName == "" {
		c.DatabaseName = databaseNameFromURI(c.URI)
	}
	return c
}

func databaseNameFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "logs"
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "logs"
	}
	return name
}

// Metrics is a point-in-time snapshot of the manager's counters.
type Metrics struct {
	Successes           uint64
	Failures            uint64
	Reconnects          uint64
	LastConnectionTime  time.Time
	LastDisconnectTime  time.Time
	State               string
	BreakerState        string
	BreakerFailureCount int
}

// Manager is the singleton Connection Manager (C1). It is safe for
// concurrent use: Acquire may be called from arbitrarily many goroutines.
type Manager struct {
	cfg     Config
	log     zerolog.Logger
	breaker *circuitBreaker

	mu          sync.Mutex
	state       connState
	client      *mongo.Client
	db          *mongo.Database
	connectCond *sync.Cond
	shutdown    bool

	successes           atomicCounter
	failures            atomicCounter
	reconnects          atomicCounter
	lastConnectTime     timeBox
	lastDisconnectTime  timeBox

	lastFailedAttempt timeBox
	lastErr           error // guarded by mu
}

// New constructs a Manager. It does not connect; the first Acquire call
// does.
func New(cfg Config, log zerolog.Logger) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:     cfg,
		log:     log.With().Str("component", "connmgr").Logger(),
		breaker: newCircuitBreaker(cfg.FailureThreshold, cfg.OpenDuration),
		state:   stateDisconnected,
	}
	m.connectCond = sync.NewCond(&m.mu)
	return m
}

// Handle is the ready-to-use database handle returned by Acquire.
type Handle struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// Acquire returns a ready-to-use Handle, connecting or reconnecting as
// necessary. It fails fast with ErrCircuitOpen while the breaker is open
// and the open window has not elapsed.
func (m *Manager) Acquire(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return Handle{}, ErrShutdown
	}

	if m.breaker.IsOpen() {
		m.mu.Unlock()
		return Handle{}, ErrCircuitOpen
	}

	if m.state == stateConnected {
		h := Handle{Client: m.client, Database: m.db}
		m.mu.Unlock()
		return h, nil
	}

	if m.state == stateConnecting || m.state == stateReconnecting {
		for m.state == stateConnecting || m.state == stateReconnecting {
			m.connectCond.Wait()
		}
		if m.state == stateConnected {
			h := Handle{Client: m.client, Database: m.db}
			m.mu.Unlock()
			return h, nil
		}
		m.mu.Unlock()
		return Handle{}, fmt.Errorf("connmgr: connect attempt failed")
	}

	// Breaker permits at most one trial when Open; AllowTrial claims it.
	wasOpen := m.breaker.State() == breakerOpen
	if wasOpen && !m.breaker.AllowTrial() {
		m.mu.Unlock()
		return Handle{}, ErrCircuitOpen
	}

	// Below the failure threshold the breaker stays closed, but repeated
	// flush-triggered Acquire calls would otherwise redial on every call;
	// RetryDelay spaces those attempts out without tripping the breaker.
	if !wasOpen {
		if since := time.Since(m.lastFailedAttempt.get()); m.lastErr != nil && since < m.cfg.RetryDelay {
			err := m.lastErr
			m.mu.Unlock()
			return Handle{}, err
		}
	}

	if m.client != nil {
		m.state = stateReconnecting
	} else {
		m.state = stateConnecting
	}
	m.mu.Unlock()

	handle, err := m.connect(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.connectCond.Broadcast()

	if err != nil {
		m.state = stateDisconnected
		m.failures.inc()
		m.lastDisconnectTime.set(time.Now())
		m.lastFailedAttempt.set(time.Now())
		m.lastErr = err
		m.breaker.RecordFailure()
		m.log.Warn().Err(err).Str("breaker_state", m.breaker.State().String()).Msg("connect attempt failed")
		return Handle{}, err
	}

	m.client = handle.Client
	m.db = handle.Database
	m.state = stateConnected
	m.successes.inc()
	m.lastConnectTime.set(time.Now())
	m.lastErr = nil
	m.breaker.RecordSuccess()
	if wasOpen {
		m.reconnects.inc()
	}
	m.log.Info().Msg("connected")
	return handle, nil
}

// connect performs the actual driver-level connect. It registers
// lifecycle callbacks for pool/heartbeat events; those only log. They do
// not change the manager's state or metrics, so after a successful connect
// Acquire keeps returning the cached handle, and lost pool connections are
// re-established by the driver itself rather than by Acquire.
func (m *Manager) connect(ctx context.Context) (Handle, error) {
	clientOpts := options.Client().
		ApplyURI(m.cfg.URI).
		SetMaxPoolSize(m.cfg.MaxPoolSize).
		SetMinPoolSize(m.cfg.MinPoolSize).
		SetMaxConnIdleTime(m.cfg.IdleTimeout).
		SetServerSelectionTimeout(m.cfg.ServerSelectionTimeout).
		SetSocketTimeout(m.cfg.SocketTimeout).
		SetServerMonitor(&event.ServerMonitor{
			ServerHeartbeatFailed: func(evt *event.ServerHeartbeatFailedEvent) {
				m.log.Warn().Err(evt.Failure).Msg("heartbeat failed")
			},
		}).
		SetPoolMonitor(&event.PoolMonitor{
			Event: func(evt *event.PoolEvent) {
				if evt.Type == event.ConnectionClosed {
					m.log.Debug().Msg("pool connection closed")
				}
			},
		})

	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.ServerSelectionTimeout+5*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return Handle{}, fmt.Errorf("connmgr: connect: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, m.cfg.ServerSelectionTimeout)
	defer pingCancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return Handle{}, fmt.Errorf("connmgr: ping: %w", err)
	}

	db := client.Database(m.cfg.DatabaseName)
	return Handle{Client: client, Database: db}, nil
}

// IsCircuitOpen reports whether the breaker is currently fast-failing
// requests.
func (m *Manager) IsCircuitOpen() bool {
	return m.breaker.IsOpen()
}

// IsConnected reports whether the manager currently holds a live handle.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateConnected
}

// ProbeResult is the outcome of a health probe.
type ProbeResult struct {
	Up     bool
	Reason string
}

// HealthProbe issues a lightweight ping against the current connection.
// It reports down (never an error) if there is no live connection or the
// ping itself fails — the spec requires probe failures never surface to
// producers as errors, only as status.
func (m *Manager) HealthProbe(ctx context.Context) ProbeResult {
	m.mu.Lock()
	client := m.client
	connected := m.state == stateConnected
	m.mu.Unlock()

	if !connected || client == nil {
		return ProbeResult{Up: false, Reason: "not connected"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(probeCtx, readpref.Primary()); err != nil {
		return ProbeResult{Up: false, Reason: err.Error()}
	}
	return ProbeResult{Up: true}
}

// Metrics returns a snapshot of connection counters and state.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	return Metrics{
		Successes:          m.successes.load(),
		Failures:           m.failures.load(),
		Reconnects:         m.reconnects.load(),
		LastConnectionTime: m.lastConnectTime.get(),
		LastDisconnectTime: m.lastDisconnectTime.get(),
		State:              state.String(),
		BreakerState:       m.breaker.State().String(),
		BreakerFailureCount: m.breaker.FailureCount(),
	}
}

// Shutdown closes the underlying client; subsequent Acquire calls fail
// with ErrShutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	client := m.client
	m.client = nil
	m.db = nil
	m.state = stateDisconnected
	m.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

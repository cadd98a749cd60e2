package terminal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codex-web/agent-gateway/internal/gatewaylog"
)

const (
	// DefaultMaxSessions is the §4.9 default `maxSessions`.
	DefaultMaxSessions = 5
	// DefaultTTL is the §4.9 default idle TTL for zero-client sessions.
	DefaultTTL = 30 * time.Minute
	evictionInterval = 60 * time.Second
)

// Metrics are the §12.5 PTY session gauges/counters, registered against the
// caller-supplied prometheus.Registerer.
type Metrics struct {
	activeSessions prometheus.Gauge
	attachedClients prometheus.Gauge
	evictedTotal    *prometheus.CounterVec
}

// NewMetrics registers the terminal mux's Prometheus collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_terminal_sessions_active",
			Help: "Number of live PTY sessions.",
		}),
		attachedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_terminal_clients_attached",
			Help: "Number of WebSocket clients currently attached to a PTY session.",
		}),
		evictedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_terminal_sessions_evicted_total",
			Help: "PTY sessions evicted, labeled by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.activeSessions, m.attachedClients, m.evictedTotal)
	}
	return m
}

// Mux is the C9 TerminalMux: one PTY per thread, shared by any number of
// WebSocket clients, with TTL and capacity-bounded eviction.
type Mux struct {
	mu          sync.Mutex
	sessions    map[string]*Session // keyed by threadId
	maxSessions int
	ttl         time.Duration
	metrics     *Metrics
	log         *gatewaylog.Logger
}

// NewMux creates a Mux. maxSessions<=0 and ttl<=0 fall back to the §4.9 defaults.
func NewMux(maxSessions int, ttl time.Duration, metrics *Metrics) *Mux {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Mux{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		ttl:         ttl,
		metrics:     metrics,
		log:         gatewaylog.New("terminal"),
	}
}

// Open returns the thread's existing session, or spawns a new one at cwd.
func (m *Mux) Open(threadID, cwd string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[threadID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := NewSession(threadID, threadID, cwd)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[threadID]; ok {
		m.mu.Unlock()
		s.Close()
		return existing, nil
	}
	m.sessions[threadID] = s
	m.mu.Unlock()

	m.reportGauges()
	m.evictBeyondCapacity()
	return s, nil
}

// Get returns the thread's session if one is currently live.
func (m *Mux) Get(threadID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[threadID]
	return s, ok
}

// Attach registers a new WS client on a session.
func (m *Mux) Attach(s *Session) (int64, <-chan OutputFrame, <-chan StatusFrame, <-chan error) {
	c := s.attach()
	m.reportGauges()
	return c.id, c.output, c.status, c.errs
}

// Detach removes a WS client from a session.
func (m *Mux) Detach(s *Session, clientID int64) {
	s.detach(clientID)
	m.reportGauges()
}

func (m *Mux) reportGauges() {
	if m.metrics == nil {
		return
	}
	m.mu.Lock()
	sessions := len(m.sessions)
	clients := 0
	for _, s := range m.sessions {
		clients += s.ClientCount()
	}
	m.mu.Unlock()
	m.metrics.activeSessions.Set(float64(sessions))
	m.metrics.attachedClients.Set(float64(clients))
}

// StartEvictionLoop runs the §4.9 60s eviction timer until ctx is cancelled.
func (m *Mux) StartEvictionLoop(ctx context.Context) {
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictOnce(time.Now())
		}
	}
}

// evictOnce kills zero-client sessions past TTL, then evicts LRU (preferring
// zero-client sessions) until the session count is within maxSessions.
func (m *Mux) evictOnce(now time.Time) {
	m.mu.Lock()
	var toEvict []string
	for threadID, s := range m.sessions {
		if s.ClientCount() == 0 && now.Sub(s.LastActivityAt()) >= m.ttl {
			toEvict = append(toEvict, threadID)
		}
	}
	for _, threadID := range toEvict {
		m.evictLocked(threadID, "ttl")
	}

	if len(m.sessions) > m.maxSessions {
		type candidate struct {
			threadID       string
			zeroClients    bool
			lastActivityAt time.Time
		}
		var candidates []candidate
		for threadID, s := range m.sessions {
			candidates = append(candidates, candidate{threadID, s.ClientCount() == 0, s.LastActivityAt()})
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].zeroClients != candidates[j].zeroClients {
				return candidates[i].zeroClients
			}
			return candidates[i].lastActivityAt.Before(candidates[j].lastActivityAt)
		})
		for len(m.sessions) > m.maxSessions && len(candidates) > 0 {
			next := candidates[0]
			candidates = candidates[1:]
			m.evictLocked(next.threadID, "capacity")
		}
	}
	m.mu.Unlock()
	m.reportGauges()
}

// evictLocked must be called with m.mu held.
func (m *Mux) evictLocked(threadID, reason string) {
	s, ok := m.sessions[threadID]
	if !ok {
		return
	}
	delete(m.sessions, threadID)
	s.Close()
	if m.metrics != nil {
		m.metrics.evictedTotal.WithLabelValues(reason).Inc()
	}
	m.log.Printf("evicted terminal session thread=%s reason=%s", threadID, reason)
}

// CloseAll kills every live PTY. Used on graceful shutdown (§5 "destroy
// terminal mux (kills all PTYs), then close HTTP listener").
func (m *Mux) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for threadID, s := range m.sessions {
		s.Close()
		delete(m.sessions, threadID)
	}
	m.reportGaugesLocked()
}

func (m *Mux) reportGaugesLocked() {
	if m.metrics == nil {
		return
	}
	m.metrics.activeSessions.Set(0)
	m.metrics.attachedClients.Set(0)
}

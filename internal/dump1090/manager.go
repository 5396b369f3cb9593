package dump1090

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"adsb_feeds/internal/models"
	"adsb_feeds/internal/tracker"
)

var (
	ErrServerExists   = errors.New("server already exists")
	ErrServerNotFound = errors.New("server not found")
	ErrManagerClosed  = errors.New("manager is closed")
)

// ManagerConfig holds the settings every server's tracker and session start from
type ManagerConfig struct {
	Tracker tracker.Config
	Session SessionConfig
}

// ManagerOption customizes a Manager
type ManagerOption func(*Manager)

func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithExternalStatusSink forwards every status report to sink as well as the manager's board
func WithExternalStatusSink(sink StatusSink) ManagerOption {
	return func(m *Manager) {
		m.board = NewStatusBoard(sink)
	}
}

func WithManagerDialer(d Dialer) ManagerOption {
	return func(m *Manager) {
		m.dialer = d
	}
}

// serverEntry is one configured server with its own tracker and, while
// enabled, a running session
type serverEntry struct {
	config  models.ServerConfig
	tracker *tracker.Tracker
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
}

func (e *serverEntry) running() bool {
	return e.session != nil
}

// Manager runs one isolated session and tracker per configured server and
// answers queries across all of them
type Manager struct {
	// mu serializes add/remove/update and guards servers
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     ManagerConfig
	servers map[string]*serverEntry
	closed  bool

	board  *StatusBoard
	events *tracker.Broadcaster
	logger *slog.Logger
	dialer Dialer
}

// NewManager creates a manager. Sessions live until ctx is cancelled or Close is called.
func NewManager(ctx context.Context, cfg ManagerConfig, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	m := &Manager{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		servers: make(map[string]*serverEntry),
		board:   NewStatusBoard(nil),
		events:  tracker.NewBroadcaster(tracker.DefaultSubscriberBuffer * 4),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddServer registers a server and starts its session if it is enabled
func (m *Manager) AddServer(cfg models.ServerConfig) error {
	if cfg.ID == "" {
		return errors.New("server id is required")
	}
	if cfg.Format == "" {
		cfg.Format = models.FormatBaseStation
	}
	if !cfg.Format.Valid() {
		return fmt.Errorf("server %s: unsupported format %q", cfg.ID, cfg.Format)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if _, ok := m.servers[cfg.ID]; ok {
		return fmt.Errorf("%w: %s", ErrServerExists, cfg.ID)
	}

	trCfg := m.cfg.Tracker
	trCfg.ServerID = cfg.ID
	trCfg.ServerName = cfg.Name
	entry := &serverEntry{
		config: cfg,
		tracker: tracker.New(trCfg,
			tracker.WithLogger(m.logger.With("component", "tracker")),
			tracker.WithForwarder(m.events),
		),
	}
	m.servers[cfg.ID] = entry
	m.logger.Info("Added feed server", "server_id", cfg.ID, "name", cfg.Name, "addr", cfg.Address, "enabled", cfg.Enabled)

	if !cfg.Enabled {
		m.reportIdle(entry)
		return nil
	}
	return m.start(entry)
}

// RemoveServer stops a server's session and forgets it
func (m *Manager) RemoveServer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.servers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	m.stop(entry)
	entry.tracker.Clear()
	delete(m.servers, id)
	m.board.Remove(id)
	m.logger.Info("Removed feed server", "server_id", id)
	return nil
}

// EnableServer starts a configured server's session
func (m *Manager) EnableServer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.servers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	if m.closed {
		return ErrManagerClosed
	}
	entry.config.Enabled = true
	if entry.running() {
		return nil
	}
	return m.start(entry)
}

// DisableServer stops a server's session and drops its aircraft, keeping its configuration
func (m *Manager) DisableServer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.servers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	entry.config.Enabled = false
	m.stop(entry)
	entry.tracker.Clear()
	m.reportIdle(entry)
	return nil
}

// UpdateServer applies only what changed between the current and new
// configuration. An address change on a running session is a hot reload.
func (m *Manager) UpdateServer(id string, next models.ServerConfig) error {
	if next.ID != "" && next.ID != id {
		return fmt.Errorf("server id cannot change (%s -> %s)", id, next.ID)
	}
	if next.Format == "" {
		next.Format = models.FormatBaseStation
	}
	if !next.Format.Valid() {
		return fmt.Errorf("server %s: unsupported format %q", id, next.Format)
	}
	next.ID = id

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.servers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	if m.closed {
		return ErrManagerClosed
	}

	prev := entry.config
	entry.config = next

	if prev.Name != next.Name {
		entry.tracker.SetServerName(next.Name)
		if entry.running() {
			entry.session.SetName(next.Name)
		}
	}

	switch {
	case prev.Enabled && !next.Enabled:
		m.stop(entry)
		entry.tracker.Clear()
		m.reportIdle(entry)
	case !prev.Enabled && next.Enabled:
		return m.start(entry)
	case next.Enabled && prev.Format != next.Format:
		m.logger.Info("Feed format changed, restarting session", "server_id", id, "format", next.Format)
		m.stop(entry)
		return m.start(entry)
	case next.Enabled && prev.Address != next.Address:
		if entry.running() {
			entry.session.UpdateAddress(next.Address)
		}
	case !next.Enabled:
		m.reportIdle(entry)
	}
	return nil
}

// GetAllAircraftMerged concatenates every server's aircraft. The same ICAO
// heard by two servers appears twice, once per server.
func (m *Manager) GetAllAircraftMerged() []models.Aircraft {
	var out []models.Aircraft
	for _, tr := range m.trackers() {
		out = append(out, tr.GetAircraft()...)
	}
	return out
}

// GetAircraftByICAO returns the first match, searching servers in id order
func (m *Manager) GetAircraftByICAO(icao string) (models.Aircraft, bool) {
	for _, tr := range m.trackers() {
		if ac, ok := tr.GetByICAO(icao); ok {
			return ac, true
		}
	}
	return models.Aircraft{}, false
}

// GetServerAircraft returns the aircraft seen by one server
func (m *Manager) GetServerAircraft(serverID string) ([]models.Aircraft, error) {
	tr, err := m.tracker(serverID)
	if err != nil {
		return nil, err
	}
	return tr.GetAircraft(), nil
}

// GetServerAircraftByICAO returns one server's view of one aircraft
func (m *Manager) GetServerAircraftByICAO(serverID, icao string) (models.Aircraft, bool) {
	tr, err := m.tracker(serverID)
	if err != nil {
		return models.Aircraft{}, false
	}
	return tr.GetByICAO(icao)
}

// SetCenter moves the distance filter origin of every tracker, including
// those of servers added later
func (m *Manager) SetCenter(lat, lon float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg.Tracker.CenterLat, m.cfg.Tracker.CenterLon = lat, lon
	for _, entry := range m.servers {
		entry.tracker.SetCenter(lat, lon)
	}
}

// Center returns the distance filter origin
func (m *Manager) Center() (lat, lon float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Tracker.CenterLat, m.cfg.Tracker.CenterLon
}

// Subscribe returns events from every server's tracker, tagged with the server id
func (m *Manager) Subscribe() *tracker.Subscription {
	return m.events.Subscribe()
}

// Servers returns the configuration of every server, ordered by id
func (m *Manager) Servers() []models.ServerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ServerConfig, 0, len(m.servers))
	for _, entry := range m.servers {
		out = append(out, entry.config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Server returns one server's configuration
func (m *Manager) Server(id string) (models.ServerConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.servers[id]
	if !ok {
		return models.ServerConfig{}, false
	}
	return entry.config, true
}

// Statuses returns the latest status of every server, ordered by id
func (m *Manager) Statuses() []models.ServerStatus {
	return m.board.All()
}

// Status returns the latest status of one server
func (m *Manager) Status(id string) (models.ServerStatus, bool) {
	return m.board.Get(id)
}

// Close cancels every session and waits for all of them to exit
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.cancel()

	var g errgroup.Group
	for _, entry := range m.servers {
		if !entry.running() {
			continue
		}
		done := entry.done
		g.Go(func() error {
			<-done
			return nil
		})
	}
	err := g.Wait()

	for _, entry := range m.servers {
		entry.session, entry.cancel, entry.done = nil, nil, nil
	}
	m.logger.Info("Feed manager stopped", "servers", len(m.servers))
	return err
}

// start launches entry's session. Caller holds m.mu.
func (m *Manager) start(entry *serverEntry) error {
	opts := []SessionOption{
		WithSessionLogger(m.logger.With("component", "session")),
		WithStatusSink(m.board),
	}
	if m.dialer != nil {
		opts = append(opts, WithDialer(m.dialer))
	}

	session, err := NewSession(entry.config, entry.tracker, m.cfg.Session, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	entry.session, entry.cancel, entry.done = session, cancel, done

	go func() {
		defer close(done)
		session.Run(ctx)
	}()
	return nil
}

// stop cancels entry's session and waits for it to exit. Caller holds m.mu.
func (m *Manager) stop(entry *serverEntry) {
	if !entry.running() {
		return
	}
	entry.cancel()
	<-entry.done
	entry.session, entry.cancel, entry.done = nil, nil, nil
}

// reportIdle publishes the status of a server without a running session
func (m *Manager) reportIdle(entry *serverEntry) {
	state := models.StateDisconnected
	if prev, ok := m.board.Get(entry.config.ID); ok && prev.State == models.StateCancelled {
		state = models.StateCancelled
	}
	m.board.ReportStatus(models.ServerStatus{
		ServerID:   entry.config.ID,
		ServerName: entry.config.Name,
		Address:    entry.config.Address,
		Enabled:    entry.config.Enabled,
		State:      state,
	})
}

func (m *Manager) tracker(serverID string) (*tracker.Tracker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.servers[serverID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}
	return entry.tracker, nil
}

// trackers returns every tracker ordered by server id
func (m *Manager) trackers() []*tracker.Tracker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*tracker.Tracker, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.servers[id].tracker)
	}
	return out
}


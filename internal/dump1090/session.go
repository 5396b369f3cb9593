package dump1090

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"adsb_feeds/internal/models"
	"adsb_feeds/internal/protocol"
	"adsb_feeds/internal/tracker"
)

// Session defaults
const (
	DefaultReconnectDelay  = 5 * time.Second
	DefaultCleanupInterval = 30 * time.Second
	DefaultDialTimeout     = 5 * time.Second
	DefaultReadBufferSize  = 16 * 1024
)

// Dialer opens feed connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SessionConfig holds the timing parameters of a feed session
type SessionConfig struct {
	ReconnectDelay  time.Duration
	CleanupInterval time.Duration
	DialTimeout     time.Duration
	ReadBufferSize  int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	return c
}

// SessionOption customizes a Session
type SessionOption func(*Session)

func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithStatusSink(sink StatusSink) SessionOption {
	return func(s *Session) {
		s.sink = sink
	}
}

func WithDialer(d Dialer) SessionOption {
	return func(s *Session) {
		if d != nil {
			s.dialer = d
		}
	}
}

// readOutcome is why a connection's read loop ended
type readOutcome int

const (
	outcomeCancelled readOutcome = iota
	outcomeDisconnected
	outcomeFailed
	outcomeAddressChanged
)

// Session owns one feed connection: it connects, decodes the stream into
// its tracker, and reconnects after failures until its context is cancelled.
type Session struct {
	serverID string
	format   models.FeedFormat
	tracker  *tracker.Tracker
	decoder  protocol.StreamDecoder
	cfg      SessionConfig
	dialer   Dialer
	sink     StatusSink
	logger   *slog.Logger

	addrChanged chan struct{}

	mu      sync.Mutex
	address string
	status  models.ServerStatus

	warnLimiter *rate.Limiter
	suppressed  int
}

// NewSession creates a session for server that feeds tr. Run starts it.
func NewSession(server models.ServerConfig, tr *tracker.Tracker, cfg SessionConfig, opts ...SessionOption) (*Session, error) {
	if server.ID == "" {
		return nil, fmt.Errorf("server id is required")
	}
	decoder, err := protocol.NewStreamDecoder(server.Format)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", server.ID, err)
	}

	cfg = cfg.withDefaults()
	s := &Session{
		serverID:    server.ID,
		format:      server.Format,
		tracker:     tr,
		decoder:     decoder,
		cfg:         cfg,
		dialer:      &net.Dialer{Timeout: cfg.DialTimeout},
		logger:      slog.New(slog.DiscardHandler),
		addrChanged: make(chan struct{}, 1),
		address:     server.Address,
		status: models.ServerStatus{
			ServerID:   server.ID,
			ServerName: server.Name,
			Address:    server.Address,
			Enabled:    server.Enabled,
			State:      models.StateConnecting,
		},
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("server_id", server.ID)
	return s, nil
}

// Address returns the currently configured address
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// UpdateAddress changes the feed address. A connected session drops its
// connection and dials the new address without waiting out the reconnect delay.
func (s *Session) UpdateAddress(addr string) {
	s.mu.Lock()
	s.address = addr
	s.status.Address = addr
	s.mu.Unlock()

	select {
	case s.addrChanged <- struct{}{}:
	default:
		// A notification is already pending; Run reads the latest address when it handles it
	}
}

// SetName changes the display name reported in status and snapshots
func (s *Session) SetName(name string) {
	s.mu.Lock()
	s.status.ServerName = name
	s.mu.Unlock()
	s.tracker.SetServerName(name)
	s.report()
}

// Status returns a copy of the session's current status
func (s *Session) Status() models.ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.AircraftCount = s.tracker.Len()
	return st
}

// Tracker returns the tracker this session feeds
func (s *Session) Tracker() *tracker.Tracker {
	return s.tracker
}

// Run connects and processes the feed until ctx is cancelled
func (s *Session) Run(ctx context.Context) {
	cleanup := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanup.Stop()
	defer s.setState(models.StateCancelled, "")

	s.logger.Info("Starting feed session", "format", s.format, "addr", s.Address())

	for {
		if ctx.Err() != nil {
			return
		}

		addr := s.Address()
		s.setState(models.StateConnecting, "")

		conn, err := s.dial(ctx, addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, errAddressChanged) {
				s.logger.Info("Feed address changed while connecting", "old_addr", addr, "new_addr", s.Address())
				continue
			}
			s.logger.Warn("Failed to connect to feed server", "addr", addr, "error", err)
			s.setState(models.StateError, err.Error())
			if !s.waitReconnect(ctx, cleanup, addr) {
				return
			}
			continue
		}

		s.logger.Info("Connected to feed server", "addr", addr)
		s.setState(models.StateConnected, "")

		switch s.readLoop(ctx, conn, addr, cleanup) {
		case outcomeCancelled:
			return
		case outcomeAddressChanged:
			continue
		default:
			if !s.waitReconnect(ctx, cleanup, addr) {
				return
			}
		}
	}
}

var errAddressChanged = errors.New("address changed")

// dial connects to addr. An address change abandons the attempt with errAddressChanged.
func (s *Session) dial(ctx context.Context, addr string) (net.Conn, error) {
	if addr == "" {
		return nil, errors.New("no address configured")
	}
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	stop := make(chan struct{})
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		for {
			select {
			case <-stop:
				return
			case <-dialCtx.Done():
				return
			case <-s.addrChanged:
				if s.Address() != addr {
					cancel()
					return
				}
			}
		}
	}()

	conn, err := s.dialer.DialContext(dialCtx, "tcp", addr)
	close(stop)
	<-watching

	// UpdateAddress stores the address before signalling, so a consumed signal is visible here
	if s.Address() != addr {
		if conn != nil {
			conn.Close()
		}
		return nil, errAddressChanged
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return conn, nil
}

// readLoop processes one connection until it ends, the address changes or ctx is cancelled
func (s *Session) readLoop(ctx context.Context, conn net.Conn, addr string, cleanup *time.Ticker) readOutcome {
	defer conn.Close()
	s.decoder.Reset()

	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go s.pump(conn, chunks, readErr, done)

	for {
		select {
		case <-ctx.Done():
			return outcomeCancelled

		case chunk := <-chunks:
			s.handleChunk(chunk)

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				s.logger.Info("Feed server closed the connection", "addr", addr)
				s.setState(models.StateDisconnected, "")
				return outcomeDisconnected
			}
			s.logger.Warn("Connection error, reconnecting", "addr", addr, "error", err)
			s.setState(models.StateError, err.Error())
			return outcomeFailed

		case <-s.addrChanged:
			if next := s.Address(); next != addr {
				s.logger.Info("Feed address changed, reconnecting", "old_addr", addr, "new_addr", next)
				return outcomeAddressChanged
			}

		case <-cleanup.C:
			s.cleanup()
		}
	}
}

// pump reads conn until it fails, handing each chunk to the read loop in order
func (s *Session) pump(conn net.Conn, chunks chan<- []byte, readErr chan<- error, done <-chan struct{}) {
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case readErr <- err:
			case <-done:
			}
			return
		}
	}
}

// waitReconnect sleeps out the reconnect delay. It returns early (true) if the
// address changes and false if ctx is cancelled.
func (s *Session) waitReconnect(ctx context.Context, cleanup *time.Ticker, lastAddr string) bool {
	timer := time.NewTimer(s.cfg.ReconnectDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-s.addrChanged:
			if s.Address() != lastAddr {
				return true
			}
		case <-cleanup.C:
			s.cleanup()
		}
	}
}

func (s *Session) handleChunk(chunk []byte) {
	msgs, errs := s.decoder.Feed(chunk)
	for _, msg := range msgs {
		s.tracker.ProcessMessage(msg)
	}
	for _, err := range errs {
		s.logDecodeError(err)
	}
	if len(msgs) == 0 && len(errs) == 0 {
		return
	}

	s.mu.Lock()
	s.status.MessagesReceived += uint64(len(msgs))
	s.status.DecodeErrors += uint64(len(errs))
	if counter, ok := s.decoder.(protocol.FrameCounter); ok {
		stats := counter.Stats()
		s.status.Frames = stats.Frames
		s.status.MeanSignalLevel = stats.MeanSignalLevel()
	}
	if len(msgs) > 0 {
		s.status.LastMessage = time.Now()
	}
	s.mu.Unlock()
	s.report()
}

func (s *Session) logDecodeError(err error) {
	if !s.warnLimiter.Allow() {
		s.suppressed++
		return
	}
	s.logger.Warn("Failed to decode record", "error", err, "suppressed", s.suppressed)
	s.suppressed = 0
}

func (s *Session) cleanup() {
	if removed := s.tracker.Cleanup(); removed > 0 {
		s.logger.Debug("Removed stale aircraft", "removed", removed, "remaining", s.tracker.Len())
	}
	s.report()
}

func (s *Session) setState(state models.ConnectionState, message string) {
	s.mu.Lock()
	s.status.State = state
	s.status.Error = message
	if state == models.StateConnected {
		s.status.ConnectedSince = time.Now()
	} else {
		s.status.ConnectedSince = time.Time{}
	}
	s.mu.Unlock()
	s.report()
}

func (s *Session) report() {
	if s.sink == nil {
		return
	}
	s.sink.ReportStatus(s.Status())
}

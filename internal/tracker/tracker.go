package tracker

import (
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"adsb_feeds/internal/models"
)

// Position validation parameters
const (
	// JumpDetectionWindow limits jump detection to reports arriving at normal cadence
	JumpDetectionWindow = 20 * time.Second
	// JumpThresholdMiles is the largest move from the last accepted fix that is taken at face value
	JumpThresholdMiles = 10.0
	// MaxConsecutiveRejections is how many jumps are rejected before the new location is believed
	MaxConsecutiveRejections = 3
	// MinTrailSpacingDegrees throttles trail growth for near-stationary aircraft (~100 m)
	MinTrailSpacingDegrees = 0.001
)

// Defaults used when Config leaves a field zero
const (
	DefaultMaxDistanceMiles = 250.0
	DefaultAircraftTimeout  = 60 * time.Second
)

// Config holds the per-tracker settings
type Config struct {
	ServerID   string
	ServerName string

	CenterLat float64
	CenterLon float64
	// MaxDistanceMiles rejects fixes farther than this from the center. Negative disables the filter.
	MaxDistanceMiles float64
	AircraftTimeout  time.Duration
	// TrailRetention trims trail points older than this during cleanup. Zero keeps the whole trail.
	TrailRetention time.Duration
}

// Option customizes a Tracker
type Option func(*Tracker)

// WithLogger sets the logger used for rejections and evictions
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithForwarder publishes every event to b in addition to the tracker's own subscribers
func WithForwarder(b *Broadcaster) Option {
	return func(t *Tracker) {
		t.forward = b
	}
}

// record is the tracker-owned mutable state of one aircraft
type record struct {
	icao         string
	callsign     string
	hasPosition  bool
	lat, lon     float64
	altitude     *int
	track        *float64
	velocity     *float64
	verticalRate *int
	lastSeen     time.Time
	messages     int
	history      []models.PositionPoint
	rejections   int
}

// Tracker keeps the current state of every aircraft heard by one feed.
// All methods are safe for concurrent use. Readers only ever get copies.
type Tracker struct {
	mu       sync.RWMutex
	cfg      Config
	aircraft map[string]*record

	events  *Broadcaster
	forward *Broadcaster
	logger  *slog.Logger
	now     func() time.Time
}

func New(cfg Config, opts ...Option) *Tracker {
	if cfg.MaxDistanceMiles == 0 {
		cfg.MaxDistanceMiles = DefaultMaxDistanceMiles
	}
	if cfg.AircraftTimeout <= 0 {
		cfg.AircraftTimeout = DefaultAircraftTimeout
	}

	t := &Tracker{
		cfg:      cfg,
		aircraft: make(map[string]*record),
		events:   NewBroadcaster(DefaultSubscriberBuffer),
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("server_id", cfg.ServerID)
	return t
}

// ProcessMessage applies one decoded message to the aircraft it refers to
func (t *Tracker) ProcessMessage(msg models.AircraftMessage) {
	if msg == nil {
		return
	}
	icao := strings.ToUpper(msg.Address())
	if icao == "" {
		t.logger.Debug("Dropping message without ICAO address", "kind", msg.Kind())
		return
	}

	var events []models.TrackerEvent

	t.mu.Lock()
	now := t.now()
	rec, ok := t.aircraft[icao]
	if !ok {
		rec = &record{icao: icao}
		t.aircraft[icao] = rec
		events = append(events, t.event(models.AircraftAdded, icao))
	}
	previousSeen := rec.lastSeen
	rec.lastSeen = now
	rec.messages++

	switch m := msg.(type) {
	case models.Identification:
		rec.callsign = m.Callsign
	case models.Position:
		if m.Altitude != nil {
			alt := *m.Altitude
			rec.altitude = &alt
		}
		if t.updatePosition(rec, m.Latitude, m.Longitude, previousSeen, now) {
			events = append(events, t.event(models.PositionUpdated, icao))
		}
	case models.Velocity:
		speed, track := m.Speed, m.Track
		rec.velocity = &speed
		rec.track = &track
		rec.verticalRate = nil
		if m.VerticalRate != nil {
			vr := *m.VerticalRate
			rec.verticalRate = &vr
		}
	case models.Altitude:
		alt := m.Altitude
		rec.altitude = &alt
	}
	t.mu.Unlock()

	t.publish(events)
}

// updatePosition validates a candidate fix and commits it. Caller holds t.mu.
// previousSeen is last_seen as it was before the current message arrived.
func (t *Tracker) updatePosition(rec *record, lat, lon float64, previousSeen, now time.Time) bool {
	if !models.ValidLatitude(lat) || !models.ValidLongitude(lon) {
		t.logger.Debug("Rejected invalid position", "icao", rec.icao, "lat", lat, "lon", lon)
		return false
	}

	if t.cfg.MaxDistanceMiles > 0 {
		dist := HaversineMiles(t.cfg.CenterLat, t.cfg.CenterLon, lat, lon)
		if !(dist <= t.cfg.MaxDistanceMiles) {
			t.logger.Debug("Rejected position outside range",
				"icao", rec.icao,
				"lat", lat,
				"lon", lon,
				"distance_miles", dist,
				"max_distance_miles", t.cfg.MaxDistanceMiles,
			)
			return false
		}
	}

	if rec.hasPosition && !previousSeen.IsZero() && now.Sub(previousSeen) <= JumpDetectionWindow {
		jump := HaversineMiles(rec.lat, rec.lon, lat, lon)
		if !(jump <= JumpThresholdMiles) {
			if rec.rejections >= MaxConsecutiveRejections {
				t.logger.Warn("Accepting position jump after repeated rejections",
					"icao", rec.icao,
					"jump_miles", jump,
					"rejections", rec.rejections,
				)
				rec.rejections = 0
			} else {
				rec.rejections++
				t.logger.Warn("Rejected position jump",
					"icao", rec.icao,
					"jump_miles", jump,
					"rejections", rec.rejections,
				)
				return false
			}
		}
	}

	if !rec.hasPosition || degreeDistance(rec.lat, rec.lon, lat, lon) > MinTrailSpacingDegrees {
		point := models.PositionPoint{Latitude: lat, Longitude: lon, Timestamp: now}
		if rec.altitude != nil {
			alt := *rec.altitude
			point.Altitude = &alt
		}
		rec.history = append(rec.history, point)
	}

	rec.lat, rec.lon = lat, lon
	rec.hasPosition = true
	rec.rejections = 0
	return true
}

// CleanupStale trims old trail points (when trail retention is set) and
// evicts every aircraft not heard from for at least timeout. It returns the
// number of aircraft removed.
func (t *Tracker) CleanupStale(timeout time.Duration) int {
	var events []models.TrackerEvent

	t.mu.Lock()
	now := t.now()
	for icao, rec := range t.aircraft {
		if t.cfg.TrailRetention > 0 {
			cutoff := now.Add(-t.cfg.TrailRetention)
			keepFrom := sort.Search(len(rec.history), func(i int) bool {
				return !rec.history[i].Timestamp.Before(cutoff)
			})
			if keepFrom > 0 {
				rec.history = slices.Delete(rec.history, 0, keepFrom)
			}
		}

		if now.Sub(rec.lastSeen) >= timeout {
			delete(t.aircraft, icao)
			events = append(events, t.event(models.AircraftRemoved, icao))
		}
	}
	remaining := len(t.aircraft)
	t.mu.Unlock()

	if len(events) > 0 {
		t.logger.Debug("Evicted stale aircraft", "removed", len(events), "remaining", remaining)
	}
	t.publish(events)
	return len(events)
}

// Cleanup runs CleanupStale with the configured aircraft timeout
func (t *Tracker) Cleanup() int {
	return t.CleanupStale(t.cfg.AircraftTimeout)
}

// Clear removes every aircraft, emitting AircraftRemoved for each
func (t *Tracker) Clear() {
	var events []models.TrackerEvent

	t.mu.Lock()
	for icao := range t.aircraft {
		events = append(events, t.event(models.AircraftRemoved, icao))
	}
	t.aircraft = make(map[string]*record)
	t.mu.Unlock()

	t.publish(events)
}

// GetAircraft returns a snapshot of every tracked aircraft, ordered by ICAO address
func (t *Tracker) GetAircraft() []models.Aircraft {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Aircraft, 0, len(t.aircraft))
	for _, rec := range t.aircraft {
		out = append(out, t.snapshot(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ICAO < out[j].ICAO })
	return out
}

// GetByICAO returns a snapshot of one aircraft
func (t *Tracker) GetByICAO(icao string) (models.Aircraft, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.aircraft[strings.ToUpper(icao)]
	if !ok {
		return models.Aircraft{}, false
	}
	return t.snapshot(rec), true
}

// Len returns the number of tracked aircraft
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.aircraft)
}

// Subscribe returns a subscription to events from now on; history is not replayed
func (t *Tracker) Subscribe() *Subscription {
	return t.events.Subscribe()
}

// SetCenter moves the origin of the distance filter. Already accepted
// positions are not re-validated.
func (t *Tracker) SetCenter(lat, lon float64) {
	t.mu.Lock()
	t.cfg.CenterLat, t.cfg.CenterLon = lat, lon
	t.mu.Unlock()
}

// Center returns the origin of the distance filter
func (t *Tracker) Center() (lat, lon float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg.CenterLat, t.cfg.CenterLon
}

// SetServerName changes the name stamped on snapshots
func (t *Tracker) SetServerName(name string) {
	t.mu.Lock()
	t.cfg.ServerName = name
	t.mu.Unlock()
}

// Config returns a copy of the tracker's settings
func (t *Tracker) Config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// snapshot copies rec. Caller holds t.mu (read or write).
func (t *Tracker) snapshot(rec *record) models.Aircraft {
	a := models.Aircraft{
		ICAO:                  rec.icao,
		Callsign:              rec.callsign,
		Altitude:              copyPtr(rec.altitude),
		Track:                 copyPtr(rec.track),
		Velocity:              copyPtr(rec.velocity),
		VerticalRate:          copyPtr(rec.verticalRate),
		LastSeen:              rec.lastSeen,
		Messages:              rec.messages,
		ConsecutiveRejections: rec.rejections,
		SourceServerID:        t.cfg.ServerID,
		SourceServerName:      t.cfg.ServerName,
	}
	if rec.hasPosition {
		lat, lon := rec.lat, rec.lon
		dist := HaversineMiles(t.cfg.CenterLat, t.cfg.CenterLon, lat, lon)
		a.Latitude, a.Longitude, a.DistanceMiles = &lat, &lon, &dist
	}
	if len(rec.history) > 0 {
		a.PositionHistory = make([]models.PositionPoint, len(rec.history))
		for i, p := range rec.history {
			p.Altitude = copyPtr(p.Altitude)
			a.PositionHistory[i] = p
		}
	}
	return a
}

func (t *Tracker) event(typ models.EventType, icao string) models.TrackerEvent {
	return models.TrackerEvent{Type: typ, ICAO: icao, ServerID: t.cfg.ServerID}
}

func (t *Tracker) publish(events []models.TrackerEvent) {
	for _, ev := range events {
		t.events.Publish(ev)
		if t.forward != nil {
			t.forward.Publish(ev)
		}
	}
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

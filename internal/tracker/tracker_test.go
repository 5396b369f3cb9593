package tracker

import (
	"math"
	"sync"
	"testing"
	"time"

	"adsb_feeds/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	laxLat = 33.9425
	laxLon = -118.4081
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(t *testing.T, maxDistance float64) (*Tracker, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	tr := New(Config{
		ServerID:         "local",
		ServerName:       "Local feed",
		CenterLat:        laxLat,
		CenterLon:        laxLon,
		MaxDistanceMiles: maxDistance,
		AircraftTimeout:  60 * time.Second,
	}, WithClock(clock.Now))
	return tr, clock
}

func position(icao string, lat, lon float64) models.Position {
	return models.Position{ICAO: icao, Latitude: lat, Longitude: lon}
}

func drain(sub *Subscription) []models.TrackerEvent {
	var out []models.TrackerEvent
	for {
		select {
		case ev := <-sub.C:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHaversineMiles(t *testing.T) {
	assert.InDelta(t, 0, HaversineMiles(laxLat, laxLon, laxLat, laxLon), 1e-9)
	// LAX to JFK is roughly 2475 statute miles
	assert.InDelta(t, 2475, HaversineMiles(laxLat, laxLon, 40.6413, -73.7781), 15)
}

func TestProcessMessage_CreatesAircraft(t *testing.T) {
	tr, _ := newTestTracker(t, 100)
	sub := tr.Subscribe()
	defer sub.Close()

	tr.ProcessMessage(models.Identification{ICAO: "a1b2c3", Callsign: "UAL123"})
	tr.ProcessMessage(models.Velocity{ICAO: "A1B2C3", Speed: 450, Track: 270, VerticalRate: models.IntPtr(1500)})
	tr.ProcessMessage(models.Altitude{ICAO: "A1B2C3", Altitude: 35000})

	require.Equal(t, 1, tr.Len())
	ac, ok := tr.GetByICAO("A1B2C3")
	require.True(t, ok)
	assert.Equal(t, "UAL123", ac.Callsign)
	assert.Equal(t, 3, ac.Messages)
	require.NotNil(t, ac.Velocity)
	assert.InDelta(t, 450.0, *ac.Velocity, 1e-9)
	require.NotNil(t, ac.Track)
	assert.InDelta(t, 270.0, *ac.Track, 1e-9)
	require.NotNil(t, ac.VerticalRate)
	assert.Equal(t, 1500, *ac.VerticalRate)
	require.NotNil(t, ac.Altitude)
	assert.Equal(t, 35000, *ac.Altitude)
	assert.Nil(t, ac.Latitude)
	assert.Equal(t, "local", ac.SourceServerID)
	assert.Equal(t, "Local feed", ac.SourceServerName)

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, models.TrackerEvent{Type: models.AircraftAdded, ICAO: "A1B2C3", ServerID: "local"}, events[0])
}

func TestProcessMessage_IgnoresEmptyICAO(t *testing.T) {
	tr, _ := newTestTracker(t, 100)
	tr.ProcessMessage(models.Altitude{Altitude: 1000})
	tr.ProcessMessage(nil)
	assert.Zero(t, tr.Len())
}

func TestProcessMessage_PositionAccepted(t *testing.T) {
	tr, _ := newTestTracker(t, 100)
	sub := tr.Subscribe()
	defer sub.Close()

	tr.ProcessMessage(models.Position{ICAO: "A1B2C3", Latitude: 34.0, Longitude: -118.3, Altitude: models.IntPtr(12000)})

	ac, ok := tr.GetByICAO("A1B2C3")
	require.True(t, ok)
	require.True(t, ac.HasPosition())
	assert.InDelta(t, 34.0, *ac.Latitude, 1e-9)
	assert.InDelta(t, -118.3, *ac.Longitude, 1e-9)
	require.NotNil(t, ac.Altitude)
	assert.Equal(t, 12000, *ac.Altitude)
	require.NotNil(t, ac.DistanceMiles)
	assert.Less(t, *ac.DistanceMiles, 10.0)
	require.Len(t, ac.PositionHistory, 1)
	require.NotNil(t, ac.PositionHistory[0].Altitude)
	assert.Equal(t, 12000, *ac.PositionHistory[0].Altitude)

	events := drain(sub)
	require.Len(t, events, 2)
	assert.Equal(t, models.AircraftAdded, events[0].Type)
	assert.Equal(t, models.PositionUpdated, events[1].Type)
}

func TestProcessMessage_DuplicatePositionSkipsTrail(t *testing.T) {
	tr, clock := newTestTracker(t, 100)

	tr.ProcessMessage(position("A1B2C3", 34.0, -118.3))
	first, _ := tr.GetByICAO("A1B2C3")

	clock.Advance(2 * time.Second)
	tr.ProcessMessage(position("A1B2C3", 34.0, -118.3))
	second, _ := tr.GetByICAO("A1B2C3")

	assert.Len(t, second.PositionHistory, 1)
	assert.InDelta(t, 34.0, *second.Latitude, 1e-9)
	assert.True(t, second.LastSeen.After(first.LastSeen))
}

func TestProcessMessage_TrailSpacing(t *testing.T) {
	tr, clock := newTestTracker(t, 100)

	tr.ProcessMessage(position("A1B2C3", 34.0, -118.3))
	clock.Advance(time.Second)
	tr.ProcessMessage(position("A1B2C3", 34.0005, -118.3)) // within 0.001°
	clock.Advance(time.Second)
	tr.ProcessMessage(position("A1B2C3", 34.01, -118.3))

	ac, _ := tr.GetByICAO("A1B2C3")
	require.Len(t, ac.PositionHistory, 2)
	assert.InDelta(t, 34.0, ac.PositionHistory[0].Latitude, 1e-9)
	assert.InDelta(t, 34.01, ac.PositionHistory[1].Latitude, 1e-9)
	assert.True(t, ac.PositionHistory[1].Timestamp.After(ac.PositionHistory[0].Timestamp))
	// The un-appended update still moved the aircraft
	assert.InDelta(t, 34.01, *ac.Latitude, 1e-9)
}

func TestProcessMessage_DistanceFilter(t *testing.T) {
	tr, _ := newTestTracker(t, 100)
	sub := tr.Subscribe()
	defer sub.Close()

	tr.ProcessMessage(position("A1B2C3", 40.6413, -73.7781))

	ac, ok := tr.GetByICAO("A1B2C3")
	require.True(t, ok, "aircraft is still created by the message")
	assert.Nil(t, ac.Latitude)
	assert.Nil(t, ac.Longitude)
	assert.Empty(t, ac.PositionHistory)

	for _, ev := range drain(sub) {
		assert.NotEqual(t, models.PositionUpdated, ev.Type)
	}
}

func TestProcessMessage_DistanceFilterDisabled(t *testing.T) {
	tr, _ := newTestTracker(t, -1)
	tr.ProcessMessage(position("A1B2C3", 40.6413, -73.7781))

	ac, _ := tr.GetByICAO("A1B2C3")
	assert.True(t, ac.HasPosition())
}

func TestProcessMessage_RejectsNonFiniteCoordinates(t *testing.T) {
	tests := []struct {
		name        string
		maxDistance float64
		lat, lon    float64
	}{
		{name: "NaN with filter", maxDistance: 100, lat: math.NaN(), lon: math.NaN()},
		{name: "NaN without filter", maxDistance: -1, lat: math.NaN(), lon: laxLon},
		{name: "infinite longitude", maxDistance: 100, lat: laxLat, lon: math.Inf(1)},
		{name: "latitude out of range", maxDistance: -1, lat: 95, lon: laxLon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTracker(t, tt.maxDistance)
			sub := tr.Subscribe()
			defer sub.Close()

			tr.ProcessMessage(position("A1B2C3", tt.lat, tt.lon))

			ac, ok := tr.GetByICAO("A1B2C3")
			require.True(t, ok)
			assert.Nil(t, ac.Latitude)
			assert.Nil(t, ac.DistanceMiles)
			assert.Empty(t, ac.PositionHistory)
			for _, ev := range drain(sub) {
				assert.NotEqual(t, models.PositionUpdated, ev.Type)
			}
		})
	}
}

func TestProcessMessage_NonFiniteFixKeepsPreviousPosition(t *testing.T) {
	tr, clock := newTestTracker(t, 100)
	tr.ProcessMessage(position("A1B2C3", 34.0, -118.3))
	clock.Advance(time.Second)
	tr.ProcessMessage(position("A1B2C3", math.NaN(), math.NaN()))

	ac, _ := tr.GetByICAO("A1B2C3")
	require.NotNil(t, ac.Latitude)
	assert.InDelta(t, 34.0, *ac.Latitude, 1e-9)
	require.NotNil(t, ac.DistanceMiles)
	assert.False(t, math.IsNaN(*ac.DistanceMiles))
	assert.Len(t, ac.PositionHistory, 1)
}

func TestProcessMessage_JumpDetectionEscapeHatch(t *testing.T) {
	tr, clock := newTestTracker(t, 100)

	// P0 near LAX, P1 ~40 miles away near Santa Clarita
	tr.ProcessMessage(position("A1B2C3", 34.0, -118.3))

	for i := 1; i <= MaxConsecutiveRejections; i++ {
		clock.Advance(2 * time.Second)
		tr.ProcessMessage(position("A1B2C3", 34.4, -118.5))

		ac, _ := tr.GetByICAO("A1B2C3")
		assert.InDelta(t, 34.0, *ac.Latitude, 1e-9, "attempt %d should be rejected", i)
		assert.Equal(t, i, ac.ConsecutiveRejections)
	}

	clock.Advance(2 * time.Second)
	tr.ProcessMessage(position("A1B2C3", 34.4, -118.5))

	ac, _ := tr.GetByICAO("A1B2C3")
	assert.InDelta(t, 34.4, *ac.Latitude, 1e-9)
	assert.Equal(t, 0, ac.ConsecutiveRejections)
	assert.Len(t, ac.PositionHistory, 2)
}

func TestProcessMessage_JumpOutsideWindowAccepted(t *testing.T) {
	tr, clock := newTestTracker(t, 100)

	tr.ProcessMessage(position("A1B2C3", 34.0, -118.3))
	clock.Advance(JumpDetectionWindow + time.Second)
	tr.ProcessMessage(position("A1B2C3", 34.4, -118.5))

	ac, _ := tr.GetByICAO("A1B2C3")
	assert.InDelta(t, 34.4, *ac.Latitude, 1e-9)
	assert.Equal(t, 0, ac.ConsecutiveRejections)
}

func TestProcessMessage_RecentNonPositionMessageKeepsWindowOpen(t *testing.T) {
	tr, clock := newTestTracker(t, 100)

	tr.ProcessMessage(position("A1B2C3", 34.0, -118.3))
	clock.Advance(15 * time.Second)
	tr.ProcessMessage(models.Altitude{ICAO: "A1B2C3", Altitude: 10000})
	clock.Advance(15 * time.Second)
	tr.ProcessMessage(position("A1B2C3", 34.4, -118.5))

	ac, _ := tr.GetByICAO("A1B2C3")
	assert.InDelta(t, 34.0, *ac.Latitude, 1e-9)
	assert.Equal(t, 1, ac.ConsecutiveRejections)
}

func TestCleanupStale_EvictsOnce(t *testing.T) {
	tr, clock := newTestTracker(t, 100)
	sub := tr.Subscribe()
	defer sub.Close()

	tr.ProcessMessage(position("OLD001", 34.0, -118.3))
	clock.Advance(45 * time.Second)
	tr.ProcessMessage(position("NEW001", 34.0, -118.3))
	clock.Advance(15 * time.Second)
	drain(sub)

	removed := tr.CleanupStale(60 * time.Second)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, tr.CleanupStale(60*time.Second))

	_, ok := tr.GetByICAO("OLD001")
	assert.False(t, ok)
	aircraft := tr.GetAircraft()
	require.Len(t, aircraft, 1)
	assert.Equal(t, "NEW001", aircraft[0].ICAO)

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, models.TrackerEvent{Type: models.AircraftRemoved, ICAO: "OLD001", ServerID: "local"}, events[0])
}

func TestCleanupStale_TrailRetention(t *testing.T) {
	clock := newFakeClock()
	tr := New(Config{
		CenterLat:        laxLat,
		CenterLon:        laxLon,
		MaxDistanceMiles: 100,
		TrailRetention:   30 * time.Second,
	}, WithClock(clock.Now))

	lat := 34.0
	for i := 0; i < 6; i++ {
		tr.ProcessMessage(position("A1B2C3", lat, -118.3))
		lat += 0.01
		clock.Advance(10 * time.Second)
	}
	ac, _ := tr.GetByICAO("A1B2C3")
	require.Len(t, ac.PositionHistory, 6)

	tr.CleanupStale(time.Hour)

	ac, ok := tr.GetByICAO("A1B2C3")
	require.True(t, ok)
	// Now is t+60s, so points at t+30s, t+40s and t+50s survive
	require.Len(t, ac.PositionHistory, 3)
	assert.InDelta(t, 34.03, ac.PositionHistory[0].Latitude, 1e-9)
}

func TestCleanupStale_UnboundedTrail(t *testing.T) {
	tr, clock := newTestTracker(t, 100)

	lat := 34.0
	for i := 0; i < 5; i++ {
		tr.ProcessMessage(position("A1B2C3", lat, -118.3))
		lat += 0.01
		clock.Advance(10 * time.Second)
	}
	tr.CleanupStale(time.Hour)

	ac, _ := tr.GetByICAO("A1B2C3")
	assert.Len(t, ac.PositionHistory, 5)
}

func TestClear(t *testing.T) {
	tr, _ := newTestTracker(t, 100)
	tr.ProcessMessage(models.Altitude{ICAO: "A00001", Altitude: 1})
	tr.ProcessMessage(models.Altitude{ICAO: "A00002", Altitude: 1})

	sub := tr.Subscribe()
	defer sub.Close()
	tr.Clear()

	assert.Zero(t, tr.Len())
	events := drain(sub)
	assert.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, models.AircraftRemoved, ev.Type)
	}
}

func TestSnapshotsAreIndependent(t *testing.T) {
	tr, _ := newTestTracker(t, 100)
	tr.ProcessMessage(models.Position{ICAO: "A1B2C3", Latitude: 34.0, Longitude: -118.3, Altitude: models.IntPtr(5000)})

	ac, _ := tr.GetByICAO("A1B2C3")
	*ac.Latitude = 0
	*ac.Altitude = 0
	ac.PositionHistory[0].Latitude = 0
	*ac.PositionHistory[0].Altitude = 0

	again, _ := tr.GetByICAO("A1B2C3")
	assert.InDelta(t, 34.0, *again.Latitude, 1e-9)
	assert.Equal(t, 5000, *again.Altitude)
	assert.InDelta(t, 34.0, again.PositionHistory[0].Latitude, 1e-9)
	assert.Equal(t, 5000, *again.PositionHistory[0].Altitude)
}

func TestSetCenter(t *testing.T) {
	tr, _ := newTestTracker(t, 100)
	tr.SetCenter(40.6413, -73.7781)

	lat, lon := tr.Center()
	assert.InDelta(t, 40.6413, lat, 1e-9)
	assert.InDelta(t, -73.7781, lon, 1e-9)

	tr.ProcessMessage(position("A1B2C3", 40.7, -73.8))
	ac, _ := tr.GetByICAO("A1B2C3")
	assert.True(t, ac.HasPosition())
}

func TestWithForwarder(t *testing.T) {
	hub := NewBroadcaster(8)
	sub := hub.Subscribe()
	defer sub.Close()

	tr := New(Config{ServerID: "remote"}, WithForwarder(hub))
	tr.ProcessMessage(models.Altitude{ICAO: "A1B2C3", Altitude: 1})

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, "remote", events[0].ServerID)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	tr, _ := newTestTracker(t, -1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			tr.ProcessMessage(position("A1B2C3", 34.0+float64(i)*0.0001, -118.3))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = tr.GetAircraft()
			_, _ = tr.GetByICAO("A1B2C3")
		}
	}()
	wg.Wait()

	assert.Equal(t, 1, tr.Len())
}

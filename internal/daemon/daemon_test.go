package daemon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"adsb_feeds/internal/config"
	"adsb_feeds/internal/database"
	"adsb_feeds/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln
}

func testConfig(dbPath string, servers ...models.ServerConfig) *config.Config {
	return &config.Config{
		Servers: servers,
		Center:  config.CenterConfig{Lat: 33.9425, Lon: -118.4081},
		Tracker: config.TrackerConfig{MaxDistanceMiles: 250, AircraftTimeout: time.Minute},
		Session: config.SessionConfig{
			ReconnectDelay:  50 * time.Millisecond,
			CleanupInterval: time.Hour,
			DialTimeout:     time.Second,
		},
		Archive: config.ArchiveConfig{
			Enabled:       dbPath != "",
			DBPath:        dbPath,
			BatchSize:     10,
			FlushInterval: 20 * time.Millisecond,
			Retention:     time.Hour,
			PruneInterval: time.Hour,
		},
		Status: config.StatusConfig{ReportInterval: time.Hour},
		HTTP:   config.HTTPConfig{Addr: "127.0.0.1:0"},
		Log:    config.LogConfig{Level: "info", Format: "text"},
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestDaemon_EndToEnd(t *testing.T) {
	feed := listen(t)
	dbPath := filepath.Join(t.TempDir(), "positions.db")
	cfg := testConfig(dbPath, models.ServerConfig{ID: "local", Name: "Local", Address: feed.Addr().String(), Enabled: true})

	d, err := New(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NoError(t, d.Start())

	conn, err := feed.Accept()
	require.NoError(t, err)
	defer conn.Close()
	_, err = fmt.Fprintf(conn, "MSG,3,1,1,A1B2C3,1,2024/01/01,00:00:00.000,2024/01/01,00:00:00.000,,35000,,,34.0000,-118.3000,,,,,,0\n")
	require.NoError(t, err)

	url := "http://" + d.APIAddr() + "/api/v1/aircraft"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Count int `json:"count"`
		}
		return json.NewDecoder(resp.Body).Decode(&body) == nil && body.Count == 1
	}, 2*time.Second, 20*time.Millisecond)

	// Give the recorder a flush interval to archive the fix
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, d.Stop())

	db, err := database.New(dbPath)
	require.NoError(t, err)
	defer db.Close()
	history, err := db.History("local", "A1B2C3", time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, 34.0, history[0].Latitude)
}

func TestDaemon_Reload(t *testing.T) {
	cfg := testConfig("",
		models.ServerConfig{ID: "a", Address: "127.0.0.1:1"},
		models.ServerConfig{ID: "b", Address: "127.0.0.1:2"},
	)
	cfg.HTTP.Addr = ""

	d, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()
	assert.Empty(t, d.APIAddr())

	next := testConfig("",
		models.ServerConfig{ID: "b", Name: "Renamed", Address: "127.0.0.1:2", Format: models.FormatBaseStation},
		models.ServerConfig{ID: "c", Address: "127.0.0.1:3"},
	)
	next.Center = config.CenterConfig{Lat: 40.6413, Lon: -73.7781}
	d.Reload(next)

	servers := d.Manager().Servers()
	require.Len(t, servers, 2)
	assert.Equal(t, "b", servers[0].ID)
	assert.Equal(t, "Renamed", servers[0].Name)
	assert.Equal(t, "c", servers[1].ID)

	lat, lon := d.Manager().Center()
	assert.Equal(t, 40.6413, lat)
	assert.Equal(t, -73.7781, lon)
}

func TestStateChangeLogger(t *testing.T) {
	var buf bytes.Buffer
	sink := stateChangeLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	sink.ReportStatus(models.ServerStatus{ServerID: "local", State: models.StateConnecting})
	sink.ReportStatus(models.ServerStatus{ServerID: "local", State: models.StateConnected})
	sink.ReportStatus(models.ServerStatus{ServerID: "local", State: models.StateConnected, MessagesReceived: 10})
	sink.ReportStatus(models.ServerStatus{ServerID: "roof", State: models.StateError, Error: "connection refused"})

	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, "Feed state changed"))
	assert.Contains(t, out, "server_id=local state=connected")
	assert.Contains(t, out, `server_id=roof state="error: connection refused"`)
}

// recordingSet records the operations reconcileServers performs
type recordingSet struct {
	servers []models.ServerConfig
	ops     []string
}

func (r *recordingSet) Servers() []models.ServerConfig { return r.servers }

func (r *recordingSet) AddServer(cfg models.ServerConfig) error {
	r.ops = append(r.ops, "add "+cfg.ID)
	return nil
}

func (r *recordingSet) UpdateServer(id string, cfg models.ServerConfig) error {
	r.ops = append(r.ops, "update "+id)
	return nil
}

func (r *recordingSet) RemoveServer(id string) error {
	r.ops = append(r.ops, "remove "+id)
	return nil
}

func TestReconcileServers(t *testing.T) {
	unchanged := models.ServerConfig{ID: "same", Address: "x:1", Format: models.FormatBaseStation, Enabled: true}
	set := &recordingSet{servers: []models.ServerConfig{
		unchanged,
		{ID: "moved", Address: "x:2", Format: models.FormatBaseStation, Enabled: true},
		{ID: "gone", Address: "x:3", Format: models.FormatBaseStation},
	}}

	reconcileServers(set, []models.ServerConfig{
		unchanged,
		{ID: "moved", Address: "x:4", Format: models.FormatBaseStation, Enabled: true},
		{ID: "new", Address: "x:5", Format: models.FormatBeast, Enabled: true},
	}, slog.New(slog.DiscardHandler))

	assert.ElementsMatch(t, []string{"update moved", "add new", "remove gone"}, set.ops)
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"adsb_feeds/internal/api"
	"adsb_feeds/internal/config"
	"adsb_feeds/internal/database"
	"adsb_feeds/internal/dump1090"
	"adsb_feeds/internal/models"
	"adsb_feeds/internal/scheduler"
	"adsb_feeds/internal/tasks"
	"adsb_feeds/internal/tracker"
)

// Daemon represents the main daemon structure
type Daemon struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       *config.Config
	logger    *slog.Logger
	manager   *dump1090.Manager
	scheduler *scheduler.Scheduler
	database  database.Repository
	api       *api.Server

	group    *errgroup.Group
	listener net.Listener

	// reloadMu serializes config reloads
	reloadMu sync.Mutex
}

// New creates a new daemon instance. Nothing connects until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		logger: logger,
	}

	if cfg.Archive.Enabled {
		db, err := database.New(cfg.Archive.DBPath)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		d.database = db
	}

	d.manager = dump1090.NewManager(ctx, managerConfig(cfg),
		dump1090.WithManagerLogger(logger.With("component", "feeds")),
		dump1090.WithExternalStatusSink(stateChangeLogger(logger.With("component", "feeds"))))

	d.scheduler = scheduler.New(ctx, logger.With("component", "scheduler"))
	d.scheduler.AddTask(tasks.NewStatusReportTask(d.manager, cfg.Status.ReportInterval, logger.With("task", "status_report")))
	if d.database != nil {
		d.scheduler.AddTask(tasks.NewPruneTask(d.database, cfg.Archive.Retention, cfg.Archive.PruneInterval, logger.With("task", "prune_positions")))
	}

	if cfg.HTTP.Addr != "" {
		opts := []api.Option{api.WithLogger(logger.With("component", "api"))}
		if d.database != nil {
			opts = append(opts, api.WithHistory(d.database))
		}
		d.api = api.NewServer(d.manager, opts...)
	}

	return d, nil
}

func managerConfig(cfg *config.Config) dump1090.ManagerConfig {
	return dump1090.ManagerConfig{
		Tracker: tracker.Config{
			CenterLat:        cfg.Center.Lat,
			CenterLon:        cfg.Center.Lon,
			MaxDistanceMiles: cfg.Tracker.MaxDistanceMiles,
			AircraftTimeout:  cfg.Tracker.AircraftTimeout,
			TrailRetention:   cfg.Tracker.TrailRetention,
		},
		Session: dump1090.SessionConfig{
			ReconnectDelay:  cfg.Session.ReconnectDelay,
			CleanupInterval: cfg.Session.CleanupInterval,
			DialTimeout:     cfg.Session.DialTimeout,
		},
	}
}

// stateChangeLogger logs each feed's connection state when it differs from the last report
func stateChangeLogger(logger *slog.Logger) dump1090.StatusSink {
	var mu sync.Mutex
	last := make(map[string]string)
	return dump1090.StatusSinkFunc(func(status models.ServerStatus) {
		text := status.Text()
		mu.Lock()
		prev, seen := last[status.ServerID]
		last[status.ServerID] = text
		mu.Unlock()
		if seen && prev == text {
			return
		}
		logger.Debug("Feed state changed", "server_id", status.ServerID, "state", text)
	})
}

// Manager returns the feed manager
func (d *Daemon) Manager() *dump1090.Manager {
	return d.manager
}

// APIAddr returns the address the HTTP API listens on, or "" if it is disabled or not started
func (d *Daemon) APIAddr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Start connects to every enabled feed server and starts the background tasks
func (d *Daemon) Start() error {
	d.logger.Info("Starting daemon", "servers", len(d.cfg.Servers))

	var ln net.Listener
	if d.api != nil {
		var err error
		ln, err = net.Listen("tcp", d.cfg.HTTP.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", d.cfg.HTTP.Addr, err)
		}
		d.listener = ln
	}

	for _, server := range d.cfg.Servers {
		if err := d.manager.AddServer(server); err != nil {
			if ln != nil {
				ln.Close()
			}
			return fmt.Errorf("failed to add server %s: %w", server.ID, err)
		}
	}

	g, gctx := errgroup.WithContext(d.ctx)
	d.group = g

	if d.database != nil {
		sub := d.manager.Subscribe()
		recorder := tasks.NewPositionRecorderWithConfig(d.database, d.manager, sub.C,
			d.cfg.Archive.BatchSize, d.cfg.Archive.FlushInterval).
			WithLogger(d.logger.With("component", "recorder"))
		g.Go(func() error {
			defer sub.Close()
			if err := recorder.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if ln != nil {
		g.Go(func() error {
			return d.api.Serve(gctx, ln)
		})
	}

	d.scheduler.Start()

	d.logger.Info("Daemon started successfully")
	return nil
}

// Reload applies a changed configuration: servers are added, removed or
// updated to match and the center is moved. Other settings take effect on restart.
func (d *Daemon) Reload(cfg *config.Config) {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	reconcileServers(d.manager, cfg.Servers, d.logger)

	if lat, lon := d.manager.Center(); lat != cfg.Center.Lat || lon != cfg.Center.Lon {
		d.manager.SetCenter(cfg.Center.Lat, cfg.Center.Lon)
		d.logger.Info("Center moved", "lat", cfg.Center.Lat, "lon", cfg.Center.Lon)
	}
	d.cfg.Servers = cfg.Servers
	d.cfg.Center = cfg.Center
}

// serverSet is the part of the feed manager a reload drives
type serverSet interface {
	Servers() []models.ServerConfig
	AddServer(cfg models.ServerConfig) error
	UpdateServer(id string, cfg models.ServerConfig) error
	RemoveServer(id string) error
}

// reconcileServers makes the manager's server list match desired
func reconcileServers(m serverSet, desired []models.ServerConfig, logger *slog.Logger) {
	current := make(map[string]models.ServerConfig)
	for _, s := range m.Servers() {
		current[s.ID] = s
	}
	wanted := make(map[string]bool, len(desired))

	for _, s := range desired {
		wanted[s.ID] = true
		prev, ok := current[s.ID]
		switch {
		case !ok:
			if err := m.AddServer(s); err != nil {
				logger.Error("Failed to add server on reload", "server_id", s.ID, "error", err)
			}
		case prev != s:
			if err := m.UpdateServer(s.ID, s); err != nil {
				logger.Error("Failed to update server on reload", "server_id", s.ID, "error", err)
			}
		}
	}

	for id := range current {
		if wanted[id] {
			continue
		}
		if err := m.RemoveServer(id); err != nil {
			logger.Error("Failed to remove server on reload", "server_id", id, "error", err)
		}
	}
}

// Stop gracefully stops the daemon
func (d *Daemon) Stop() error {
	d.logger.Info("Stopping daemon")
	d.cancel()

	var errs []error
	if d.group != nil {
		if err := d.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	d.scheduler.Stop()

	if err := d.manager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing feed manager: %w", err))
	}

	if d.database != nil {
		if err := d.database.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing database: %w", err))
		}
	}

	d.logger.Info("Daemon stopped")
	return errors.Join(errs...)
}

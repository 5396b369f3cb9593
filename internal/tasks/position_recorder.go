package tasks

import (
	"context"
	"log/slog"
	"time"

	"adsb_feeds/internal/models"
)

// PositionWriter stores archived positions
type PositionWriter interface {
	InsertBatch(records []models.PositionRecord) error
}

// AircraftSource looks up one server's current view of an aircraft
type AircraftSource interface {
	GetServerAircraftByICAO(serverID, icao string) (models.Aircraft, bool)
}

// PositionRecorder archives every accepted position and commits them to the
// repository in batches
type PositionRecorder struct {
	repo          PositionWriter
	source        AircraftSource
	events        <-chan models.TrackerEvent
	batchSize     int           // maximum number of positions in a batch before committing to database
	flushInterval time.Duration // time to flush batch even if not full
	logger        *slog.Logger
}

// Default batch size is 100 positions and flush interval is 1 second
func NewPositionRecorder(repo PositionWriter, source AircraftSource, events <-chan models.TrackerEvent) *PositionRecorder {
	return NewPositionRecorderWithConfig(repo, source, events, 100, time.Second)
}

// NewPositionRecorderWithConfig creates a recorder with custom batch settings
func NewPositionRecorderWithConfig(repo PositionWriter, source AircraftSource, events <-chan models.TrackerEvent, batchSize int, flushInterval time.Duration) *PositionRecorder {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &PositionRecorder{
		repo:          repo,
		source:        source,
		events:        events,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.New(slog.DiscardHandler),
	}
}

// WithLogger sets the recorder's logger
func (r *PositionRecorder) WithLogger(logger *slog.Logger) *PositionRecorder {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Start records positions until ctx is cancelled or the event channel is closed.
// Batches are flushed when they reach batchSize or flushInterval has passed
// since the last flush.
func (r *PositionRecorder) Start(ctx context.Context) error {
	batch := make([]models.PositionRecord, 0, r.batchSize)

	flushBatch := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.repo.InsertBatch(batch); err != nil {
			r.logger.Error("Error inserting batch of positions", "batch_size", len(batch), "error", err)
		} else {
			r.logger.Debug("Inserted batch of positions", "batch_size", len(batch))
		}
		batch = batch[:0] // Reset slice but keep capacity
	}

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Flush any remaining positions before exiting
			flushBatch()
			return ctx.Err()

		case <-ticker.C:
			flushBatch()

		case ev, ok := <-r.events:
			if !ok {
				flushBatch()
				return nil
			}
			if ev.Type != models.PositionUpdated {
				continue
			}

			ac, found := r.source.GetServerAircraftByICAO(ev.ServerID, ev.ICAO)
			if !found {
				// Evicted between the event and the lookup
				continue
			}
			rec, ok := models.NewPositionRecord(ac, ac.LastSeen)
			if !ok {
				continue
			}
			batch = append(batch, rec)

			if len(batch) >= r.batchSize {
				flushBatch()
			}
		}
	}
}

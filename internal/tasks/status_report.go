package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"adsb_feeds/internal/models"
)

// StatusSource lists the latest status of every feed server
type StatusSource interface {
	Statuses() []models.ServerStatus
}

// StatusReportTask periodically logs a one-line summary per feed server
type StatusReportTask struct {
	source   StatusSource
	interval time.Duration
	logger   *slog.Logger
}

func NewStatusReportTask(source StatusSource, interval time.Duration, logger *slog.Logger) *StatusReportTask {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StatusReportTask{source: source, interval: interval, logger: logger}
}

func (t *StatusReportTask) Name() string {
	return "status_report"
}

func (t *StatusReportTask) Interval() time.Duration {
	return t.interval
}

func (t *StatusReportTask) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	statuses := t.source.Statuses()
	total := 0
	for _, st := range statuses {
		total += st.AircraftCount
		attrs := []any{
			"server_id", st.ServerID,
			"state", st.Text(),
			"enabled", st.Enabled,
			"aircraft", st.AircraftCount,
			"messages", st.MessagesReceived,
			"decode_errors", st.DecodeErrors,
		}
		if st.Frames > 0 {
			attrs = append(attrs, "frames", st.Frames, "mean_signal", fmt.Sprintf("%.1f", st.MeanSignalLevel))
		}
		if !st.LastMessage.IsZero() {
			attrs = append(attrs, "last_message_age", time.Since(st.LastMessage).Round(time.Second).String())
		}
		t.logger.Info("Feed status", attrs...)
	}
	t.logger.Info("Feed summary", "servers", len(statuses), "aircraft", total)
	return nil
}

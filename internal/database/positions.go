package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"adsb_feeds/internal/models"
)

type PositionRepository interface {
	InsertBatch(records []models.PositionRecord) error
	// PruneBefore deletes positions recorded before cutoff and returns how many were removed
	PruneBefore(cutoff time.Time) (int64, error)
	// History returns the archived positions of one aircraft since a time,
	// oldest first. An empty serverID matches every server.
	History(serverID, icao string, since time.Time) ([]models.PositionRecord, error)
}

type positionRepository struct {
	db *sql.DB
}

func NewPositionRepository(db *sql.DB) PositionRepository {
	return &positionRepository{db: db}
}

// InsertBatch inserts positions in a single transaction. A fix already
// archived for the same server, aircraft and millisecond is ignored.
func (r *positionRepository) InsertBatch(records []models.PositionRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO positions (
		server_id, icao, callsign, latitude, longitude, altitude, track, velocity, recorded_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(
			rec.ServerID,
			rec.ICAO,
			nullString(rec.Callsign),
			rec.Latitude,
			rec.Longitude,
			rec.Altitude,
			rec.Track,
			rec.Velocity,
			rec.Timestamp.UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to insert position: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *positionRepository) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM positions WHERE recorded_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune positions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned positions: %w", err)
	}
	return n, nil
}

func (r *positionRepository) History(serverID, icao string, since time.Time) ([]models.PositionRecord, error) {
	query := `SELECT server_id, icao, callsign, latitude, longitude, altitude, track, velocity, recorded_at
		FROM positions WHERE icao = ? AND recorded_at >= ?`
	args := []any{strings.ToUpper(icao), since.UnixMilli()}
	if serverID != "" {
		query += ` AND server_id = ?`
		args = append(args, serverID)
	}
	query += ` ORDER BY recorded_at, server_id`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []models.PositionRecord
	for rows.Next() {
		var (
			rec      models.PositionRecord
			callsign sql.NullString
			altitude sql.NullInt64
			track    sql.NullFloat64
			velocity sql.NullFloat64
			millis   int64
		)
		if err := rows.Scan(&rec.ServerID, &rec.ICAO, &callsign, &rec.Latitude, &rec.Longitude,
			&altitude, &track, &velocity, &millis); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		rec.Callsign = callsign.String
		if altitude.Valid {
			alt := int(altitude.Int64)
			rec.Altitude = &alt
		}
		if track.Valid {
			rec.Track = &track.Float64
		}
		if velocity.Valid {
			rec.Velocity = &velocity.Float64
		}
		rec.Timestamp = time.UnixMilli(millis).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read positions: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/provtrack/fieldsync/internal/schema"
)

const trackColumns = `local_id, server_id, project_id, entry_local_id,
	file_path, size_bytes, point_count, created_at,
	sync_status, sync_error, synced_at`

// CreateGpsTrack durably persists a new GPS track and its outbox record
// in a single transaction.
func (s *Store) CreateGpsTrack(ctx context.Context, g *schema.GpsTrack) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid gps track: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO gps_tracks (
			local_id, server_id, project_id, entry_local_id,
			file_path, size_bytes, point_count, created_at,
			sync_status, sync_error, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.LocalID, g.ServerID, g.ProjectID, g.EntryLocalID,
		g.FilePath, g.SizeBytes, g.PointCount, formatTime(g.CreatedAt),
		string(g.SyncStatus), g.SyncError, timeToNullString(g.SyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert gps track: %w", err)
	}

	if err := enqueueTx(ctx, tx, schema.EntityTrack, g.LocalID, g.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit gps track: %w", err)
	}
	return nil
}

// GetGpsTrack fetches one track by local ID.
func (s *Store) GetGpsTrack(ctx context.Context, localID string) (*schema.GpsTrack, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+trackColumns+` FROM gps_tracks WHERE local_id = ?`, localID)

	g, err := scanGpsTrack(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gps track: %w", err)
	}
	return g, nil
}

// GpsTrackByPath returns the track registered for a file path, or nil.
func (s *Store) GpsTrackByPath(ctx context.Context, path string) (*schema.GpsTrack, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+trackColumns+` FROM gps_tracks WHERE file_path = ? LIMIT 1`, path)

	g, err := scanGpsTrack(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query gps track by path: %w", err)
	}
	return g, nil
}

// ListFailedTracks returns all permanently failed tracks, oldest first.
func (s *Store) ListFailedTracks(ctx context.Context) ([]*schema.GpsTrack, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+trackColumns+` FROM gps_tracks
		WHERE sync_status = 'failed'
		ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*schema.GpsTrack
	for rows.Next() {
		g, err := scanGpsTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gps track: %w", err)
		}
		tracks = append(tracks, g)
	}
	return tracks, rows.Err()
}

func scanGpsTrack(sc scanner) (*schema.GpsTrack, error) {
	var (
		g         schema.GpsTrack
		createdAt string
		status    string
		syncedAt  sql.NullString
	)

	err := sc.Scan(
		&g.LocalID, &g.ServerID, &g.ProjectID, &g.EntryLocalID,
		&g.FilePath, &g.SizeBytes, &g.PointCount, &createdAt,
		&status, &g.SyncError, &syncedAt,
	)
	if err != nil {
		return nil, err
	}

	g.CreatedAt = parseTime(createdAt)
	g.SyncStatus = schema.SyncStatus(status)
	g.SyncedAt = nullStringToTime(syncedAt)
	return &g, nil
}

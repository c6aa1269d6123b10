package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/provtrack/fieldsync/internal/schema"
)

const mediaColumns = `local_id, server_id, project_id, entry_local_id,
	file_path, mime_type, size_bytes, created_at,
	sync_status, sync_error, synced_at`

// CreateMediaAsset durably persists a new media asset and its outbox
// record in a single transaction.
func (s *Store) CreateMediaAsset(ctx context.Context, m *schema.MediaAsset) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid media asset: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO media_assets (
			local_id, server_id, project_id, entry_local_id,
			file_path, mime_type, size_bytes, created_at,
			sync_status, sync_error, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.LocalID, m.ServerID, m.ProjectID, m.EntryLocalID,
		m.FilePath, m.MimeType, m.SizeBytes, formatTime(m.CreatedAt),
		string(m.SyncStatus), m.SyncError, timeToNullString(m.SyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert media asset: %w", err)
	}

	if err := enqueueTx(ctx, tx, schema.EntityMedia, m.LocalID, m.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit media asset: %w", err)
	}
	return nil
}

// GetMediaAsset fetches one asset by local ID.
func (s *Store) GetMediaAsset(ctx context.Context, localID string) (*schema.MediaAsset, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+mediaColumns+` FROM media_assets WHERE local_id = ?`, localID)

	m, err := scanMediaAsset(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media asset: %w", err)
	}
	return m, nil
}

// MediaAssetByPath returns the asset registered for a file path, or nil.
// The capture watcher uses this to avoid double-registering a file.
func (s *Store) MediaAssetByPath(ctx context.Context, path string) (*schema.MediaAsset, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+mediaColumns+` FROM media_assets WHERE file_path = ? LIMIT 1`, path)

	m, err := scanMediaAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query media asset by path: %w", err)
	}
	return m, nil
}

// ListFailedMedia returns all permanently failed assets, oldest first.
func (s *Store) ListFailedMedia(ctx context.Context) ([]*schema.MediaAsset, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+mediaColumns+` FROM media_assets
		WHERE sync_status = 'failed'
		ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed media: %w", err)
	}
	defer rows.Close()

	var assets []*schema.MediaAsset
	for rows.Next() {
		m, err := scanMediaAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media asset: %w", err)
		}
		assets = append(assets, m)
	}
	return assets, rows.Err()
}

func scanMediaAsset(sc scanner) (*schema.MediaAsset, error) {
	var (
		m         schema.MediaAsset
		createdAt string
		status    string
		syncedAt  sql.NullString
	)

	err := sc.Scan(
		&m.LocalID, &m.ServerID, &m.ProjectID, &m.EntryLocalID,
		&m.FilePath, &m.MimeType, &m.SizeBytes, &createdAt,
		&status, &m.SyncError, &syncedAt,
	)
	if err != nil {
		return nil, err
	}

	m.CreatedAt = parseTime(createdAt)
	m.SyncStatus = schema.SyncStatus(status)
	m.SyncedAt = nullStringToTime(syncedAt)
	return &m, nil
}

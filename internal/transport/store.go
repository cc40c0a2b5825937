package transport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
)

// SQLStore maps instance ids to whatsmeow device records. Device state itself
// is persisted by whatsmeow's sqlstore; this only owns the instance_id → jid
// mapping and device deletion.
type SQLStore struct {
	db        *sql.DB
	container *sqlstore.Container
	log       zerolog.Logger
}

func NewSQLStore(ctx context.Context, db *sql.DB, container *sqlstore.Container, log zerolog.Logger) (*SQLStore, error) {
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS instance_devices (
            instance_id VARCHAR(255) PRIMARY KEY,
            jid         VARCHAR(255) NOT NULL,
            created_at  TIMESTAMP NOT NULL DEFAULT NOW()
        )`)
	if err != nil {
		return nil, fmt.Errorf("create instance_devices: %w", err)
	}
	return &SQLStore{db: db, container: container, log: log}, nil
}

func (s *SQLStore) Load(ctx context.Context, instanceID string) (Credentials, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT jid FROM instance_devices WHERE instance_id = $1`, instanceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load mapping: %w", err)
	}

	jid, err := types.ParseJID(raw)
	if err != nil {
		return nil, fmt.Errorf("parse jid %q: %w", raw, err)
	}
	device, err := s.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	if device == nil {
		// Mapping outlived the device record; drop it.
		s.log.Warn().Str("instance_id", instanceID).Str("jid", raw).Msg("stale device mapping, removing")
		_, _ = s.db.ExecContext(ctx, `DELETE FROM instance_devices WHERE instance_id = $1`, instanceID)
		return nil, nil
	}
	return &DeviceCredentials{Device: device}, nil
}

func (s *SQLStore) Save(ctx context.Context, instanceID string, creds Credentials) error {
	dc, ok := creds.(*DeviceCredentials)
	if !ok || !dc.Registered() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO instance_devices (instance_id, jid) VALUES ($1, $2)
        ON CONFLICT (instance_id) DO UPDATE SET jid = EXCLUDED.jid`,
		instanceID, dc.Device.ID.String())
	if err != nil {
		return fmt.Errorf("save mapping: %w", err)
	}
	return nil
}

func (s *SQLStore) Wipe(ctx context.Context, instanceID string) error {
	creds, err := s.Load(ctx, instanceID)
	if err != nil {
		return err
	}
	if dc, ok := creds.(*DeviceCredentials); ok && dc.Device != nil {
		if err := s.container.DeleteDevice(ctx, dc.Device); err != nil {
			return fmt.Errorf("delete device: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM instance_devices WHERE instance_id = $1`, instanceID)
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instance_id FROM instance_devices ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Package persist mirrors device aggregates to a durable local store.
// Durability is best-effort: write failures are logged, never surfaced into
// the mutation path, and unreadable rows are treated as absent on load.
package persist

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mvickers/meshdeck/pkg/models"
	"github.com/mvickers/meshdeck/pkg/persist/migrations"
)

// Adapter stores one serialized snapshot per device id.
type Adapter interface {
	Save(deviceID string, snap *models.DeviceSnapshot) error
	Load(deviceID string) (*models.DeviceSnapshot, error)
	LoadAll() ([]*models.DeviceSnapshot, error)
	Remove(deviceID string) error
	Close() error
}

type sqliteAdapter struct {
	db  *sqlx.DB
	log *slog.Logger
}

// Open opens (creating if needed) the snapshot store at path and runs any
// pending schema migrations. Use ":memory:" for an ephemeral store.
func Open(path string, logger *slog.Logger) (Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	// A single writer keeps snapshot upserts serialized at the driver level.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring snapshot store: %w", err)
	}
	if err := migrations.Up(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteAdapter{db: db, log: logger}, nil
}

func (a *sqliteAdapter) Save(deviceID string, snap *models.DeviceSnapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("serializing snapshot for %s: %w", deviceID, err)
	}
	stmt := `
	INSERT INTO device_snapshots (device_id, snapshot, updated_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (device_id)
	DO UPDATE SET snapshot = $2, updated_at = $3;`
	if _, err := a.db.Exec(stmt, deviceID, blob, time.Now().UTC()); err != nil {
		return fmt.Errorf("writing snapshot for %s: %w", deviceID, err)
	}
	return nil
}

func (a *sqliteAdapter) Load(deviceID string) (*models.DeviceSnapshot, error) {
	var blob []byte
	err := a.db.Get(&blob, `SELECT snapshot FROM device_snapshots WHERE device_id = $1;`, deviceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot for %s: %w", deviceID, err)
	}
	return a.decode(deviceID, blob), nil
}

func (a *sqliteAdapter) LoadAll() ([]*models.DeviceSnapshot, error) {
	rows := []struct {
		DeviceID string `db:"device_id"`
		Snapshot []byte `db:"snapshot"`
	}{}
	err := a.db.Select(&rows, `SELECT device_id, snapshot FROM device_snapshots ORDER BY device_id;`)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("reading snapshots: %w", err)
	}
	snaps := make([]*models.DeviceSnapshot, 0, len(rows))
	for _, row := range rows {
		if snap := a.decode(row.DeviceID, row.Snapshot); snap != nil {
			snaps = append(snaps, snap)
		}
	}
	return snaps, nil
}

// decode treats an unparseable blob as absent so a corrupt row degrades to
// a fresh device instead of failing startup.
func (a *sqliteAdapter) decode(deviceID string, blob []byte) *models.DeviceSnapshot {
	var snap models.DeviceSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		a.log.Warn("discarding unreadable device snapshot", "device", deviceID, "error", err)
		return nil
	}
	return &snap
}

func (a *sqliteAdapter) Remove(deviceID string) error {
	if _, err := a.db.Exec(`DELETE FROM device_snapshots WHERE device_id = $1;`, deviceID); err != nil {
		return fmt.Errorf("removing snapshot for %s: %w", deviceID, err)
	}
	return nil
}

func (a *sqliteAdapter) Close() error {
	return a.db.Close()
}

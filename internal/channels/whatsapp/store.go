package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/roelfdiedericks/wacodex/internal/paths"
)

// DefaultDBName is the device store file under the data directory
const DefaultDBName = "whatsapp.db"

// DeviceStore is the opened sqlite device database.
type DeviceStore struct {
	db        *sql.DB
	container *sqlstore.Container
	Path      string
}

// DefaultDBPath returns ~/.wacodex/whatsapp.db
func DefaultDBPath() (string, error) {
	return paths.DataPath(DefaultDBName)
}

// OpenStore opens (and migrates) the device database at dbPath.
func OpenStore(ctx context.Context, dbPath string) (*DeviceStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open whatsapp db: %w", err)
	}
	container := sqlstore.NewWithDB(db, "sqlite3", newLogger("store"))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to upgrade whatsapp store: %w", err)
	}
	return &DeviceStore{db: db, container: container, Path: dbPath}, nil
}

// Device returns the paired device, or a fresh unpaired one.
func (s *DeviceStore) Device(ctx context.Context) (*store.Device, error) {
	device, err := s.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get whatsapp device: %w", err)
	}
	if device == nil {
		device = s.container.NewDevice()
	}
	return device, nil
}

// Paired returns the JIDs of every stored device.
func (s *DeviceStore) Paired(ctx context.Context) ([]string, error) {
	devices, err := s.container.GetAllDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	var jids []string
	for _, d := range devices {
		if d.ID != nil {
			jids = append(jids, d.ID.String())
		}
	}
	return jids, nil
}

// Unlink deletes every stored device, so the next run shows a QR code.
func (s *DeviceStore) Unlink(ctx context.Context) (int, error) {
	devices, err := s.container.GetAllDevices(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list devices: %w", err)
	}
	for i, device := range devices {
		if err := device.Delete(ctx); err != nil {
			return i, fmt.Errorf("failed to delete device %v: %w", device.ID, err)
		}
	}
	return len(devices), nil
}

// Close closes the database.
func (s *DeviceStore) Close() error {
	return s.db.Close()
}

// StoreExists reports whether a device database file is present.
func StoreExists(dbPath string) bool {
	_, err := os.Stat(dbPath)
	return err == nil
}

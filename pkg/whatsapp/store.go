package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/sipeed/wabridge/pkg/logger"
)

// SessionStore persists the paired device in a local SQLite file so a
// restart does not need a new QR scan.
type SessionStore struct {
	path string

	mu        sync.Mutex
	db        *sql.DB
	container *sqlstore.Container
}

func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// Open creates the database (and its directory) if needed and upgrades the
// schema. Calling Open on an open store is a no-op.
func (s *SessionStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.container != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+s.path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open session db: %w", err)
	}

	container := sqlstore.NewWithDB(db, "sqlite3", newWALogger("store", false))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return fmt.Errorf("upgrade session db: %w", err)
	}

	s.db = db
	s.container = container
	logger.InfoCF("store", "Session store opened", map[string]interface{}{
		"path": s.path,
	})
	return nil
}

// Device returns the first stored device, or a new unpaired one.
func (s *SessionStore) Device(ctx context.Context) (*store.Device, error) {
	s.mu.Lock()
	container := s.container
	s.mu.Unlock()
	if container == nil {
		return nil, fmt.Errorf("session store is not open")
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	return device, nil
}

func (s *SessionStore) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("session store is not open")
	}
	return s.db.Ping()
}

func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.container = nil
	return err
}

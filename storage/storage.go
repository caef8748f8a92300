// Package storage provides the persistent key-value store backing the
// personalization profile. In-memory state stays authoritative; writes go
// through an asynchronous flush path that never blocks a scoring decision.
package storage

import (
	"database/sql"
	"sync"
	"time"

	"github.com/avast/retry-go"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/neurotunes/sequencer/errors"
)

// Connection pool constants
const (
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 2
	DefaultConnMaxLifetime = 30 * time.Minute
	HealthCheckInterval    = 30 * time.Second
)

// Flush worker constants
const (
	DefaultFlushQueueSize  = 64
	DefaultFlushRetries    = 3
	DefaultFlushRetryDelay = 200 * time.Millisecond
)

// Blob names used by the profile layer.
const (
	BlobProfile     = "profile"
	BlobHistory     = "history"
	BlobPreferences = "preferences"
)

// Store is a sqlite-backed blob store with an async flush worker.
type Store struct {
	conn         *sql.DB
	logger       *logrus.Logger
	mu           sync.RWMutex
	flushQueue   chan flushRequest
	retries      uint
	shutdownChan chan struct{}
	workerWg     sync.WaitGroup
}

type flushRequest struct {
	name string
	data []byte
}

// New opens (or creates) the store at dbPath and starts the flush worker and
// connection health check.
func New(dbPath string, logger *logrus.Logger) (*Store, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryStorage, "CONNECTION_FAILED", "failed to open store").
			WithContext("path", dbPath)
	}

	conn.SetMaxOpenConns(DefaultMaxOpenConns)
	conn.SetMaxIdleConns(DefaultMaxIdleConns)
	conn.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := conn.Ping(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryStorage, "CONNECTION_FAILED", "failed to ping store").
			WithContext("path", dbPath)
	}

	s := &Store{
		conn:         conn,
		logger:       logger,
		flushQueue:   make(chan flushRequest, DefaultFlushQueueSize),
		retries:      DefaultFlushRetries,
		shutdownChan: make(chan struct{}),
	}

	if err := s.createTables(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryStorage, "MIGRATION_FAILED", "failed to create store tables").
			WithContext("path", dbPath)
	}

	s.workerWg.Add(1)
	go s.flushLoop()
	go s.healthCheckLoop()

	return s, nil
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS blobs (
			name TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_blobs_updated_at ON blobs(updated_at)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return errors.Wrap(err, errors.CategoryStorage, "MIGRATION_FAILED", "failed to execute table creation query").
				WithContext("query", query)
		}
	}

	return nil
}

// Get returns the blob stored under name, or a BLOB_NOT_FOUND error.
func (s *Store) Get(name string) ([]byte, error) {
	if name == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "name")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var data []byte
	err := s.conn.QueryRow(`SELECT data FROM blobs WHERE name = ?`, name).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrBlobNotFound.WithContext("name", name)
		}
		return nil, errors.Wrap(err, errors.CategoryStorage, "QUERY_FAILED", "failed to read blob").
			WithContext("name", name)
	}

	return data, nil
}

// Set writes a blob synchronously. The profile layer normally goes through
// SetAsync; Set exists for initialization and tests.
func (s *Store) Set(name string, data []byte) error {
	if name == "" {
		return errors.ErrValidationFailed.WithContext("field", "name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`INSERT OR REPLACE INTO blobs (name, data, updated_at) VALUES (?, ?, ?)`,
		name, data, time.Now())
	if err != nil {
		return errors.Wrap(err, errors.CategoryStorage, "QUERY_FAILED", "failed to write blob").
			WithContext("name", name)
	}

	return nil
}

// SetAsync enqueues a fire-and-forget flush. When the queue is full the
// request is dropped and logged; in-memory state remains authoritative.
func (s *Store) SetAsync(name string, data []byte) {
	select {
	case s.flushQueue <- flushRequest{name: name, data: data}:
	default:
		s.logger.WithField("name", name).Warn("Flush queue full, dropping write")
	}
}

func (s *Store) flushLoop() {
	defer s.workerWg.Done()

	for {
		select {
		case req := <-s.flushQueue:
			s.flush(req)
		case <-s.shutdownChan:
			// Drain outstanding writes before exiting
			for {
				select {
				case req := <-s.flushQueue:
					s.flush(req)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) flush(req flushRequest) {
	err := retry.Do(
		func() error {
			return s.Set(req.name, req.data)
		},
		retry.Attempts(s.retries),
		retry.Delay(DefaultFlushRetryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		// Persistence failures never propagate to the playback path
		s.logger.WithError(err).WithFields(logrus.Fields{
			"name":  req.name,
			"bytes": len(req.data),
		}).Error("Failed to flush blob")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"name":  req.name,
		"bytes": len(req.data),
	}).Debug("Flushed blob")
}

func (s *Store) healthCheckLoop() {
	ticker := time.NewTicker(HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.conn.Ping(); err != nil {
				s.logger.WithError(err).Error("Store health check failed")
			}
		case <-s.shutdownChan:
			s.logger.Debug("Store health check loop shutting down")
			return
		}
	}
}

// Close drains the flush queue and closes the connection.
func (s *Store) Close() error {
	select {
	case <-s.shutdownChan:
		// Already closed
	default:
		close(s.shutdownChan)
	}

	s.workerWg.Wait()

	if err := s.conn.Close(); err != nil {
		return errors.Wrap(err, errors.CategoryStorage, "CLOSE_FAILED", "failed to close store connection")
	}
	return nil
}

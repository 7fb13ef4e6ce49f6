// Copyright 2025 Certen Protocol
//
// Package archive mirrors committed blocks into Postgres on a best-effort
// basis, independent of the JSON snapshot files persistence writes on
// every commit. It exists purely for external queryability; the archive
// is never read back to reconstruct ledger state, so a lagging or
// unreachable archive never blocks a commit.

package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/certen/ledger-validator/pkg/ledger"
)

// Sink asynchronously mirrors committed blocks to Postgres.
type Sink struct {
	db     *sql.DB
	logger *log.Logger
	blocks chan mirrorJob
	done   chan struct{}
}

type mirrorJob struct {
	height uint64
	block  ledger.Block
}

// NewSink opens a connection pool against dsn and ensures the mirror
// table exists. A Sink is optional infrastructure: callers that did not
// configure a DSN should simply not construct one and skip calling
// Record.
func NewSink(dsn string) (*Sink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: create table: %w", err)
	}

	s := &Sink{
		db:     db,
		logger: log.New(log.Writer(), "[archive] ", log.LstdFlags),
		blocks: make(chan mirrorJob, 256),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS committed_blocks (
	height     BIGINT PRIMARY KEY,
	kind       TEXT NOT NULL,
	payload    JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Record enqueues block for async mirroring. It never blocks the commit
// path on a slow or unreachable database: if the internal queue is full,
// the block is dropped and logged rather than backing up the pipeline.
func (s *Sink) Record(height uint64, block ledger.Block) {
	select {
	case s.blocks <- mirrorJob{height: height, block: block}:
	default:
		s.logger.Printf("archive queue full, dropping block at height %d", height)
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for job := range s.blocks {
		payload, err := json.Marshal(job.block)
		if err != nil {
			s.logger.Printf("marshal block %d: %v", job.height, err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO committed_blocks (height, kind, payload) VALUES ($1, $2, $3)
			 ON CONFLICT (height) DO NOTHING`,
			job.height, string(job.block.Kind), payload)
		cancel()
		if err != nil {
			s.logger.Printf("mirror block %d: %v", job.height, err)
		}
	}
}

// Close stops accepting new records and waits for the queue to drain
// before closing the underlying connection pool.
func (s *Sink) Close() error {
	close(s.blocks)
	<-s.done
	return s.db.Close()
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package es implements the Elasticsearch sink adapter: bulk indexing
// via github.com/elastic/go-elasticsearch/v8's esutil.BulkIndexer,
// against a configurable index and host. Batched in memory (not staged
// to disk), matching the original es.rs adapter's in-process Vec<Action>
// accumulation. HTTP/IO-class failures count against fail_count exactly
// as the original distinguishes them from JSON/server-side errors that
// are logged but don't trip the retry counter — the Worker's generic
// retry loop approximates that by treating any bulk-send error as
// failcount-worthy, which is a conservative simplification over the
// original's finer-grained error taxonomy (see DESIGN.md).
package es

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	jsoniter "github.com/json-iterator/go"
	"github.com/nishisan-dev/loutd/internal/record"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds the per-output settings recognized by the Elasticsearch
// adapter.
type Config struct {
	Host         string `toml:"host"`
	Index        string `toml:"index"`
	BatchMaxSize int    `toml:"batch_max_size"`
	BatchSecs    int    `toml:"batch_secs"`
}

// DefaultConfig mirrors the original adapter's defaults.
func DefaultConfig() Config {
	return Config{Host: "http://localhost:9200", Index: "logs", BatchMaxSize: 1000, BatchSecs: 10}
}

// Shipper implements sink.Shipper for Elasticsearch.
type Shipper struct {
	cfg    Config
	client *elasticsearch.Client

	mu        sync.Mutex
	staged    []*record.Record
	lastFlush time.Time
}

// New constructs an Elasticsearch Shipper against cfg.Host.
func New(cfg Config) (*Shipper, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{cfg.Host}})
	if err != nil {
		return nil, fmt.Errorf("es: building client: %w", err)
	}
	return &Shipper{cfg: cfg, client: client, lastFlush: time.Now()}, nil
}

func (s *Shipper) Stage(rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = append(s.staged, rec)
	return nil
}

func (s *Shipper) ShouldFlush() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.staged) == 0 {
		return false
	}
	if s.cfg.BatchSecs > 0 && time.Since(s.lastFlush) >= time.Duration(s.cfg.BatchSecs)*time.Second {
		return true
	}
	return len(s.staged) >= s.cfg.BatchMaxSize
}

func (s *Shipper) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

// Flush builds a BulkIndexer for the staged batch and sends it. On an
// indexer construction or add error the batch is retained for retry.
func (s *Shipper) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.staged
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:  s.cfg.Index,
		Client: s.client,
	})
	if err != nil {
		return fmt.Errorf("es: building bulk indexer: %w", err)
	}

	var flushErr error
	for _, rec := range batch {
		body, err := jsonAPI.Marshal(rec.Raw)
		if err != nil {
			continue
		}
		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action: "index",
			Body:   bytes.NewReader(body),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				flushErr = fmt.Errorf("es: bulk item failed: %v", err)
			},
		})
		if err != nil {
			flushErr = fmt.Errorf("es: queuing bulk item: %w", err)
		}
	}
	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("es: closing bulk indexer: %w", err)
	}
	if flushErr != nil {
		return flushErr
	}

	s.mu.Lock()
	s.staged = nil
	s.lastFlush = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Shipper) Close() error { return nil }

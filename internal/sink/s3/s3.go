// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package s3 implements the S3 sink adapter: records are staged
// newline-delimited to an on-disk batch.Buffer and shipped as a single
// object upload via aws-sdk-go-v2/feature/s3/manager's Uploader, with
// an MD5 content digest and an RFC3339 UTC timestamp key, mirroring the
// original output::s3 module's batch file protocol. The batch may
// optionally be gzip-compressed before upload.
package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"

	"github.com/nishisan-dev/loutd/internal/batch"
	"github.com/nishisan-dev/loutd/internal/record"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds the per-output settings recognized by the S3 adapter.
type Config struct {
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	BatchDirectory string `toml:"batch_directory"`
	BatchMaxSize   int64  `toml:"batch_max_size"`
	BatchSecs      int    `toml:"batch_secs"`
	Gzip           bool   `toml:"gzip"`
}

// DefaultConfig mirrors the original adapter's defaults.
func DefaultConfig() Config {
	return Config{
		Region:         "us-east-1",
		Bucket:         "logs",
		BatchDirectory: "/var/lib/loutd",
		BatchMaxSize:   1_000_000,
		BatchSecs:      300,
		Gzip:           false,
	}
}

// Shipper implements sink.Shipper for S3.
type Shipper struct {
	cfg      Config
	uploader *manager.Uploader
	buf      *batch.Buffer
}

// New constructs an S3 Shipper and opens its on-disk staging file at
// <BatchDirectory>/s3batch.
func New(ctx context.Context, cfg Config) (*Shipper, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("s3: loading AWS credentials: %w", err)
	}
	buf, err := batch.Open(filepath.Join(cfg.BatchDirectory, "s3batch"))
	if err != nil {
		return nil, fmt.Errorf("s3: opening batch file: %w", err)
	}
	uploader := manager.NewUploader(s3.NewFromConfig(awsCfg))
	return &Shipper{cfg: cfg, uploader: uploader, buf: buf}, nil
}

func (s *Shipper) Stage(rec *record.Record) error {
	line, err := jsonAPI.Marshal(rec.Raw)
	if err != nil {
		return fmt.Errorf("s3: marshaling record: %w", err)
	}
	line = append(line, '\n')
	return s.buf.Append(line)
}

func (s *Shipper) ShouldFlush() bool {
	return s.buf.ShouldFlush(time.Duration(s.cfg.BatchSecs)*time.Second, s.cfg.BatchMaxSize, 0)
}

func (s *Shipper) Pending() int { return s.buf.Count() }

// Flush reads the staged batch into memory, optionally gzips it,
// computes its MD5 digest, and uploads it via manager.Uploader under
// an RFC3339 UTC timestamp key (suffixed .gz when gzip is on).
func (s *Shipper) Flush(ctx context.Context) error {
	return s.buf.Ship(func(r io.ReadSeeker, count int, size int64) error {
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return fmt.Errorf("s3: reading staged batch: %w", err)
		}

		key := time.Now().UTC().Format(time.RFC3339)
		if s.cfg.Gzip {
			compressed, err := gzipCompress(data)
			if err != nil {
				return fmt.Errorf("s3: gzip compressing batch: %w", err)
			}
			data = compressed
			key += ".gz"
		}

		digest := md5.Sum(data)
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:     aws.String(s.cfg.Bucket),
			Key:        aws.String(key),
			Body:       bytes.NewReader(data),
			ContentMD5: aws.String(base64.StdEncoding.EncodeToString(digest[:])),
		})
		if err != nil {
			return fmt.Errorf("s3: uploading object %s: %w", key, err)
		}
		return nil
	})
}

// gzipCompress returns data gzip-compressed in memory.
func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Shipper) Close() error { return s.buf.Close() }

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	applog "excalidesk/internal/log"
)

// S3Config configures a sync root mirrored to an S3 bucket.
type S3Config struct {
	// Root is the local directory mirrored to Bucket/Prefix.
	Root   string
	Bucket string
	Prefix string
	// Region is optional; the default chain is used when empty.
	Region string
	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	Endpoint     string
	UsePathStyle bool
}

func (c S3Config) validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	if c.Root == "" {
		return errors.New("S3 sync root is required")
	}
	return nil
}

// ObjectAPI is the part of the S3 client the provider uses.
type ObjectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// syncRecord is the sidecar kept next to each materialized file.
type syncRecord struct {
	ETag     string    `json:"etag"`
	SyncedAt time.Time `json:"syncedAt"`
	Size     int64     `json:"size"`
}

// S3Provider treats files under Root as cloud items backed by Bucket/Prefix.
type S3Provider struct {
	cfg  S3Config
	root string
	api  ObjectAPI
	log  *slog.Logger

	mu       sync.Mutex
	inflight map[string]int
}

// NewS3 loads the AWS default config and builds a provider. Credentials come from the SDK
// default chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	return NewS3WithClient(cfg, s3.NewFromConfig(awsConfig, s3Opts...))
}

// NewS3WithClient builds a provider over an existing client.
func NewS3WithClient(cfg S3Config, api ObjectAPI) (*S3Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve sync root: %w", err)
	}
	return &S3Provider{
		cfg:      cfg,
		root:     filepath.Clean(root),
		api:      api,
		log:      applog.WithComponent("cloud.s3"),
		inflight: make(map[string]int),
	}, nil
}

// SidecarPath returns the sync record path for path.
func SidecarPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".exdsync")
}

// IsSidecar reports whether name is a sync record file name.
func IsSidecar(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") && strings.HasSuffix(base, ".exdsync")
}

// key maps path to its object key, or false when path is outside the sync root.
func (p *S3Provider) key(path string) (string, string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", false
	}
	rel, err := filepath.Rel(p.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", false
	}
	k := filepath.ToSlash(rel)
	if prefix := strings.Trim(p.cfg.Prefix, "/"); prefix != "" {
		k = prefix + "/" + k
	}
	return abs, k, true
}

func readRecord(path string) (syncRecord, bool, error) {
	var rec syncRecord
	b, err := os.ReadFile(SidecarPath(path))
	if errors.Is(err, os.ErrNotExist) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, false, fmt.Errorf("parse sync record: %w", err)
	}
	return rec, true, nil
}

func writeRecord(path string, rec syncRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(SidecarPath(path), b, 0o644)
}

func isNotFound(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// ResourceValues derives the sync state of path. Nothing is cached between calls.
func (p *S3Provider) ResourceValues(ctx context.Context, path string) (ResourceValues, error) {
	var rv ResourceValues
	abs, key, ok := p.key(path)
	if !ok {
		return rv, nil
	}
	rec, hasRec, err := readRecord(abs)
	if err != nil {
		return rv, err
	}
	info, statErr := os.Stat(abs)
	local := statErr == nil
	if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return rv, statErr
	}
	if !hasRec && local {
		return rv, nil
	}

	head, err := p.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(p.cfg.Bucket), Key: aws.String(key)})
	remote := err == nil
	if err != nil && !isNotFound(err) {
		return rv, fmt.Errorf("head %s: %w", key, err)
	}
	if !hasRec && !remote {
		return rv, nil
	}

	rv.IsCloudItem = true
	rv.IsDownloaded = local
	rv.DownloadRequested = p.requested(abs)
	if local && hasRec && remote && aws.ToString(head.ETag) != rec.ETag {
		rv.IsOutdated = true
		rv.HasConflict = info.ModTime().After(rec.SyncedAt) || info.Size() != rec.Size
	}
	return rv, nil
}

func (p *S3Provider) requested(abs string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight[abs] > 0
}

func (p *S3Provider) begin(abs string) func() {
	p.mu.Lock()
	p.inflight[abs]++
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		if p.inflight[abs]--; p.inflight[abs] <= 0 {
			delete(p.inflight, abs)
		}
		p.mu.Unlock()
	}
}

// Materialize downloads the remote object into path, replacing any local copy.
func (p *S3Provider) Materialize(ctx context.Context, path string, progress Progress) error {
	abs, key, ok := p.key(path)
	if !ok {
		return fmt.Errorf("materialize %s: %w", path, ErrNotCloudItem)
	}
	defer p.begin(abs)()
	report := func(f float64) {
		if progress != nil {
			progress(f)
		}
	}

	out, err := p.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(p.cfg.Bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("materialize %s: %w", path, ErrNotCloudItem)
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), "."+filepath.Base(abs)+".download-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	total := aws.ToInt64(out.ContentLength)
	report(0)
	n, err := io.Copy(tmp, &countingReader{r: out.Body, total: total, report: report})
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return fmt.Errorf("download %s: %w", key, err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		cleanup()
		return err
	}
	report(1)

	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	rec := syncRecord{ETag: aws.ToString(out.ETag), SyncedAt: info.ModTime(), Size: n}
	if err := writeRecord(abs, rec); err != nil {
		return fmt.Errorf("write sync record: %w", err)
	}
	p.log.DebugContext(ctx, "materialized", slog.String("key", key), slog.Int64("bytes", n))
	return nil
}

// EvictLocalCopy removes the local file and keeps the sync record so the file stays a
// cloud item.
func (p *S3Provider) EvictLocalCopy(ctx context.Context, path string) error {
	abs, key, ok := p.key(path)
	if !ok {
		return fmt.Errorf("evict %s: %w", path, ErrNotCloudItem)
	}
	if _, hasRec, err := readRecord(abs); err != nil {
		return err
	} else if !hasRec {
		// No sync record, no known remote copy.
		return fmt.Errorf("evict %s: %w", path, ErrNotCloudItem)
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	p.log.DebugContext(ctx, "evicted local copy", slog.String("key", key))
	return nil
}

type countingReader struct {
	r      io.Reader
	total  int64
	read   int64
	report Progress
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.read += int64(n)
	if n > 0 && c.total > 0 {
		c.report(min(float64(c.read)/float64(c.total), 1))
	}
	return n, err
}

// Package backup stores encrypted snapshots of the local star cache in
// S3-compatible storage and restores them.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/starchart/internal/model"
)

var (
	ErrNotConfigured = errors.New("backup not configured")
	ErrNoBackups     = errors.New("no backups found")
)

// s3Client is the subset of the S3 API the manager uses.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Snapshotter is the star engine as seen by the backup manager.
type Snapshotter interface {
	Snapshot() *model.StarCache
	Restore(c *model.StarCache) error
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Config holds backup manager configuration.
type Config struct {
	S3         S3Config
	Passphrase string
	// Prefix namespaces this device's objects within the bucket.
	Prefix   string
	Interval time.Duration
	// Keep is how many snapshots survive pruning.
	Keep   int
	Logger *slog.Logger
	Now    func() time.Time
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	LastKey    string     `json:"last_key,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Object describes one stored snapshot.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Manager uploads and restores encrypted cache snapshots.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	status Status
	client s3Client
	engine Snapshotter
	logger *slog.Logger

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a backup manager. It is disabled unless bucket,
// credentials and passphrase are all set.
func NewManager(cfg Config, engine Snapshotter) *Manager {
	if cfg.Prefix == "" {
		cfg.Prefix = "starchart"
	}
	if cfg.Interval == 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 14
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Manager{
		cfg:    cfg,
		engine: engine,
		logger: cfg.Logger,
		status: Status{State: StateDisabled},
	}
	if cfg.S3.complete() && cfg.Passphrase != "" {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether backups are configured.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if s.LastBackup == nil {
		s.LastBackup = m.status.LastBackup
		if s.LastKey == "" {
			s.LastKey = m.status.LastKey
		}
	}
	m.status = s
	m.mu.Unlock()
}

// Start runs a backup every Interval until Stop. Disabled managers do
// nothing.
func (m *Manager) Start(ctx context.Context) {
	if !m.Enabled() {
		return
	}
	m.mu.Lock()
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.RunNow(ctx); err != nil {
					m.logger.Error("scheduled backup failed", "error", err)
				}
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *Manager) objectKey(at time.Time) string {
	return path.Join(m.cfg.Prefix, "star-cache-"+at.UTC().Format("20060102T150405.000Z")+".json.enc")
}

// RunNow uploads a snapshot of the cache and prunes old snapshots.
func (m *Manager) RunNow(ctx context.Context) (Object, error) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return Object{}, ErrNotConfigured
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.setStatus(Status{State: StateRunning})
	obj, err := m.upload(ctx, client)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return Object{}, err
	}

	at := obj.LastModified
	m.setStatus(Status{State: StateIdle, LastBackup: &at, LastKey: obj.Key})
	m.logger.Info("backup uploaded", "key", obj.Key, "bytes", obj.Size)

	if err := m.prune(ctx, client); err != nil {
		m.logger.Warn("prune old backups", "error", err)
	}
	return obj, nil
}

func (m *Manager) upload(ctx context.Context, client s3Client) (Object, error) {
	plaintext, err := json.Marshal(m.engine.Snapshot())
	if err != nil {
		return Object{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	sealed, err := Seal(plaintext, m.cfg.Passphrase)
	if err != nil {
		return Object{}, fmt.Errorf("encrypt snapshot: %w", err)
	}

	now := m.cfg.Now()
	key := m.objectKey(now)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return Object{}, fmt.Errorf("upload to s3: %w", err)
	}
	return Object{Key: key, Size: int64(len(sealed)), LastModified: now.UTC()}, nil
}

// List returns this device's snapshots, newest first.
func (m *Manager) List(ctx context.Context) ([]Object, error) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return nil, ErrNotConfigured
	}
	return m.list(ctx, client)
}

func (m *Manager) list(ctx context.Context, client s3Client) ([]Object, error) {
	var objects []Object
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Prefix: aws.String(m.cfg.Prefix + "/"),
	}
	for {
		out, err := client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, o := range out.Contents {
			key := aws.ToString(o.Key)
			if !strings.HasSuffix(key, ".json.enc") {
				continue
			}
			objects = append(objects, Object{
				Key:          key,
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	// Keys embed the timestamp, so lexical order is chronological.
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key > objects[j].Key })
	return objects, nil
}

func (m *Manager) prune(ctx context.Context, client s3Client) error {
	objects, err := m.list(ctx, client)
	if err != nil {
		return err
	}
	if len(objects) <= m.cfg.Keep {
		return nil
	}

	var errs []error
	for _, o := range objects[m.cfg.Keep:] {
		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(o.Key),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", o.Key, err))
		}
	}
	return errors.Join(errs...)
}

// Restore downloads and decrypts the snapshot at key and replaces the local
// cache with it. An empty key restores the newest snapshot.
func (m *Manager) Restore(ctx context.Context, key string) error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return ErrNotConfigured
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()

	if key == "" {
		objects, err := m.list(ctx, client)
		if err != nil {
			return err
		}
		if len(objects) == 0 {
			return ErrNoBackups
		}
		key = objects[0].Key
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer out.Body.Close()

	sealed, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	plaintext, err := Open(sealed, m.cfg.Passphrase)
	if err != nil {
		return fmt.Errorf("decrypt backup: %w", err)
	}

	var cache model.StarCache
	if err := json.Unmarshal(plaintext, &cache); err != nil {
		return fmt.Errorf("decode backup: %w", err)
	}
	if err := m.engine.Restore(&cache); err != nil {
		return fmt.Errorf("restore cache: %w", err)
	}

	m.logger.Info("backup restored", "key", key)
	return nil
}

// Package snapshotstore is the snapshot facet of PersistentStores: a
// local raft.SnapshotStore with an optional MinIO mirror for off-box
// durability, following a minio.Client connect/upload pattern.
package snapshotstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/raft"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// MirrorConfig holds the minio.Config fields relevant to snapshot
// mirroring.
type MirrorConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store wraps raft's own file snapshot store and, when a mirror is
// configured, uploads each completed snapshot to MinIO under the shard's
// prefix.
type Store struct {
	inner  *raft.FileSnapshotStore
	mirror *minio.Client
	bucket string
	prefix string
	logger *logrus.Logger
}

// Open creates the local snapshot directory under dataDir/shardPrefix and
// connects to the mirror if cfg.Enabled.
func Open(ctx context.Context, dataDir, shardPrefix string, retain int, cfg MirrorConfig, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	dir := filepath.Join(dataDir, shardPrefix, "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshotstore: creating %s: %w", dir, err)
	}

	inner, err := raft.NewFileSnapshotStore(filepath.Join(dataDir, shardPrefix), retain, io.Discard)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: creating file store: %w", err)
	}

	s := &Store{inner: inner, bucket: cfg.Bucket, prefix: shardPrefix, logger: logger}

	if cfg.Enabled {
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("snapshotstore: creating minio client: %w", err)
		}
		exists, err := client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("snapshotstore: checking bucket %s: %w", cfg.Bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("snapshotstore: creating bucket %s: %w", cfg.Bucket, err)
			}
		}
		s.mirror = client
		logger.WithField("shard", shardPrefix).Info("snapshot mirror enabled")
	}

	return s, nil
}

// Create delegates to the local file store and wraps the returned sink so
// Close() also mirrors the finished snapshot, matching raft.SnapshotStore.
func (s *Store) Create(version raft.SnapshotVersion, index, term uint64, configuration raft.Configuration, configurationIndex uint64, trans raft.Transport) (raft.SnapshotSink, error) {
	sink, err := s.inner.Create(version, index, term, configuration, configurationIndex, trans)
	if err != nil {
		return nil, err
	}
	if s.mirror == nil {
		return sink, nil
	}
	return &mirroringSink{SnapshotSink: sink, store: s}, nil
}

func (s *Store) List() ([]*raft.SnapshotMeta, error) { return s.inner.List() }

func (s *Store) Open(id string) (*raft.SnapshotMeta, io.ReadCloser, error) { return s.inner.Open(id) }

// mirroringSink wraps the local file store's sink so that Close() also
// uploads the finished snapshot bytes to the MinIO mirror. Writes are
// tee'd into an in-memory buffer rather than re-read from disk, since
// raft.SnapshotSink exposes no path back to its own file.
type mirroringSink struct {
	raft.SnapshotSink
	store *Store
	buf   []byte
}

func (m *mirroringSink) Write(p []byte) (int, error) {
	n, err := m.SnapshotSink.Write(p)
	if n > 0 {
		m.buf = append(m.buf, p[:n]...)
	}
	return n, err
}

func (m *mirroringSink) Close() error {
	if err := m.SnapshotSink.Close(); err != nil {
		return err
	}
	id := m.SnapshotSink.ID()
	reader := bytes.NewReader(m.buf)
	_, err := m.store.mirror.PutObject(context.Background(), m.store.bucket,
		m.store.prefix+"/"+id, reader, int64(len(m.buf)), minio.PutObjectOptions{})
	if err != nil {
		m.store.logger.WithError(err).WithField("snapshot", id).Warn("snapshot mirror upload failed")
	}
	return nil
}

var _ raft.SnapshotSink = (*mirroringSink)(nil)

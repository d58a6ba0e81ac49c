package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docmesh/docmesh-backend/internal/pkg/logger"
)

// Store is the narrow object-storage contract the pipeline depends on.
// Cloud and S3-compatible backends live behind the same interface elsewhere;
// the core only needs read-by-key and write-by-key.
type Store interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) (string, error)
}

type localStore struct {
	root string
	log  *logger.Logger
}

func NewLocalFromEnv(log *logger.Logger) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("filestore: logger required")
	}
	root := strings.TrimSpace(os.Getenv("FILE_STORE_ROOT"))
	if root == "" {
		root = "./data"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create root: %w", err)
	}
	return &localStore{root: root, log: log.With("service", "LocalFileStore")}, nil
}

func (s *localStore) path(key string) (string, error) {
	cleaned := filepath.Clean("/" + key)
	if cleaned == "/" {
		return "", fmt.Errorf("filestore: empty key")
	}
	return filepath.Join(s.root, cleaned), nil
}

func (s *localStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", key, err)
	}
	return data, nil
}

func (s *localStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("filestore: mkdir for %s: %w", key, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("filestore: write %s: %w", key, err)
	}
	return p, nil
}

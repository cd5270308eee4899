// Package storage persists generated asset bytes and hands back opaque asset
// references. The reference doubles as the public URL path the UI can fetch.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrAssetNotFound is returned when a stored asset cannot be located.
var ErrAssetNotFound = errors.New("asset not found")

// ObjectStore is the boundary to asset persistence: raw bytes in, a resolved
// reference out.
type ObjectStore interface {
	// Put stores data under key with the given content type and returns the
	// asset reference.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get returns the stored bytes and content type for a key.
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// extensionFor maps a content type to the on-disk file extension.
func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	default:
		return ".bin"
	}
}

func contentTypeFor(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg":
		return "image/jpeg"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// FileStore writes assets to a mounted directory and exposes them under a
// public base URL.
type FileStore struct {
	savePath string
	baseURL  string
	logger   *zap.Logger
}

// NewFileStore creates the store and ensures the save directory exists.
func NewFileStore(savePath, publicBaseURL string, logger *zap.Logger) (*FileStore, error) {
	if savePath == "" {
		return nil, errors.New("asset save path is not configured")
	}
	if publicBaseURL == "" {
		return nil, errors.New("asset public base URL is not configured")
	}
	if err := os.MkdirAll(savePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory %s: %w", savePath, err)
	}
	return &FileStore{
		savePath: savePath,
		baseURL:  strings.TrimSuffix(publicBaseURL, "/"),
		logger:   logger.Named("FileStore"),
	}, nil
}

// Put stores data and returns its public reference.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", errors.New("asset key is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fileName := sanitizeKey(key) + extensionFor(contentType)
	filePath := filepath.Join(s.savePath, fileName)
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		s.logger.Error("Failed to write asset file", zap.String("path", filePath), zap.Error(err))
		return "", fmt.Errorf("failed to write asset %s: %w", key, err)
	}

	ref := s.baseURL + "/" + fileName
	s.logger.Info("Asset stored",
		zap.String("key", key),
		zap.String("contentType", contentType),
		zap.Int("sizeBytes", len(data)),
		zap.String("ref", ref),
	)
	return ref, nil
}

// Get loads previously stored bytes by key or by full reference.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	fileName := sanitizeKey(strings.TrimPrefix(key, s.baseURL+"/"))
	matches, err := filepath.Glob(filepath.Join(s.savePath, fileName+"*"))
	if err != nil || len(matches) == 0 {
		// The key may already carry its extension.
		full := filepath.Join(s.savePath, filepath.Base(fileName))
		data, readErr := os.ReadFile(full)
		if readErr != nil {
			return nil, "", ErrAssetNotFound
		}
		return data, contentTypeFor(filepath.Ext(full)), nil
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, "", ErrAssetNotFound
	}
	return data, contentTypeFor(filepath.Ext(matches[0])), nil
}

// sanitizeKey keeps the key path-safe. Keys are internal, so anything outside
// a conservative charset is replaced and parent references are neutralized.
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.ReplaceAll(b.String(), "..", "__")
}

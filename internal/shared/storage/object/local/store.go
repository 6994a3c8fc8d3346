package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"finsight-backend/internal/shared/server/respond"
	"finsight-backend/internal/shared/storage/object"
)

const maxDownloadBytes = 64 << 20

// Store implements BlobStore on the local filesystem. Signed URLs point at
// the API's /blobs route, which Handler serves.
type Store struct {
	baseDir string
	signer  object.URLSigner
}

// New creates a local store rooted at baseDir.
func New(baseDir string, signer object.URLSigner) *Store {
	return &Store{baseDir: baseDir, signer: signer}
}

func (s *Store) Backend() string { return "local" }

// Upload writes the reader to disk at key.
func (s *Store) Upload(ctx context.Context, key string, contentType string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fullPath, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return 0, fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	written, err := io.Copy(f, r)
	if err != nil {
		return 0, fmt.Errorf("write body: %w", err)
	}
	_ = contentType
	return written, nil
}

// Open opens a stored object for reading.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(fullPath)
}

// Download reads a whole object.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	return object.ReadLimited(rc, maxDownloadBytes)
}

// SignedURL returns an HMAC-signed link to the blobs route.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := s.resolve(key); err != nil {
		return "", err
	}
	return s.signer.Sign(key, ttl)
}

// Handler serves GET /blobs/*path for URLs produced by SignedURL.
func (s *Store) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(c.Param("path"), "/")
		if err := s.signer.Verify(key, c.Query("expires"), c.Query("sig")); err != nil {
			if errors.Is(err, object.ErrSignatureExpired) {
				respond.Error(c, http.StatusForbidden, "url_expired", "signed url expired", nil)
				return
			}
			respond.Error(c, http.StatusForbidden, "invalid_signature", "invalid signed url", nil)
			return
		}
		fullPath, err := s.resolve(key)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid path", nil)
			return
		}
		if _, err := os.Stat(fullPath); err != nil {
			respond.Error(c, http.StatusNotFound, "not_found", "object not found", nil)
			return
		}
		c.File(fullPath)
	}
}

// Ping checks that the storage root is a writable directory.
func (s *Store) Ping(ctx context.Context) error {
	info, err := os.Stat(s.baseDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.baseDir)
	}
	return nil
}

func (s *Store) resolve(key string) (string, error) {
	clean := filepath.Clean(key)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage key")
	}
	return filepath.Join(s.baseDir, clean), nil
}

var _ object.BlobStore = (*Store)(nil)

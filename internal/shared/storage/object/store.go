package object

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"
)

// ErrTooLarge is returned by ReadLimited when an object exceeds the limit.
var ErrTooLarge = errors.New("object exceeds size limit")

// BlobStore is path-addressed object storage with time-limited signed URLs.
type BlobStore interface {
	Upload(ctx context.Context, key string, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Download(ctx context.Context, key string) ([]byte, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Backend() string
}

// Pinger is implemented by stores that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Saved describes an object written by Save.
type Saved struct {
	Key       string
	SizeBytes int64
	MimeType  string
}

// Save writes r under the owner's namespace with a random prefix and sniffs
// its content type from the first 512 bytes.
func Save(ctx context.Context, store BlobStore, ownerID, fileName string, r io.Reader) (Saved, error) {
	sanitizedName, err := CleanFileName(fileName)
	if err != nil {
		return Saved{}, fmt.Errorf("sanitize file name: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Saved{}, err
	}

	key := path.Join(OwnerPrefix(ownerID), fmt.Sprintf("%s_%s", randomID(), sanitizedName))

	var sniff [512]byte
	n, readErr := io.ReadFull(r, sniff[:])
	if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		return Saved{}, fmt.Errorf("read sniff: %w", readErr)
	}
	mimeType := DetectContentType(fileName, sniff[:n])

	size, err := store.Upload(ctx, key, mimeType, io.MultiReader(bytes.NewReader(sniff[:n]), r))
	if err != nil {
		return Saved{}, err
	}
	return Saved{Key: key, SizeBytes: size, MimeType: mimeType}, nil
}

// DetectContentType prefers the tabular types implied by the file extension
// over byte sniffing, which reports CSV as text/plain and XLSX as zip.
func DetectContentType(fileName string, head []byte) string {
	switch path.Ext(fileName) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return http.DetectContentType(head)
}

// ReadLimited reads at most limit bytes from rc and closes it.
func ReadLimited(rc io.ReadCloser, limit int64) ([]byte, error) {
	defer rc.Close()
	if limit <= 0 {
		return io.ReadAll(rc)
	}
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

func randomID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

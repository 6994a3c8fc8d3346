package object

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"mime"
	"path"
	"strings"
)

// ErrInvalidName is returned for uploads whose file name cannot be stored.
var ErrInvalidName = errors.New("invalid file name")

const maxNameLength = 128

// OwnerPrefix namespaces an owner's objects without exposing the raw id in
// storage keys or signed URLs.
func OwnerPrefix(ownerID string) string {
	sum := sha256.Sum256([]byte(ownerID))
	return hex.EncodeToString(sum[:12])
}

// CleanFileName keeps the base name of an upload, replacing separators and
// control characters. Traversal sequences are rejected outright.
func CleanFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "..") {
		return "", ErrInvalidName
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, name)
	if len(cleaned) > maxNameLength {
		ext := path.Ext(cleaned)
		if len(ext) > 16 {
			ext = ""
		}
		cleaned = cleaned[:maxNameLength-len(ext)] + ext
	}
	if strings.Trim(cleaned, "_. ") == "" {
		return "", ErrInvalidName
	}
	return cleaned, nil
}

// ContentDisposition names the download after the uploaded file, dropping
// the random prefix Save puts in front of it.
func ContentDisposition(key string) string {
	name := path.Base(key)
	if i := strings.IndexByte(name, '_'); i > 0 {
		name = name[i+1:]
	}
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}

package object

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrSignatureInvalid is returned when a signed URL does not verify.
	ErrSignatureInvalid = errors.New("invalid signature")
	// ErrSignatureExpired is returned when a signed URL is past its expiry.
	ErrSignatureExpired = errors.New("signature expired")
)

// URLSigner issues HMAC-signed download URLs for backends without native
// presigning. URLs look like <BaseURL>/<key>?expires=<unix>&sig=<hex>.
type URLSigner struct {
	BaseURL string
	Key     []byte
	Now     func() time.Time
}

// Sign returns a URL for key valid for ttl.
func (s URLSigner) Sign(key string, ttl time.Duration) (string, error) {
	if len(s.Key) == 0 {
		return "", errors.New("blob signing key not configured")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}
	expires := s.now().Add(ttl).Unix()
	sig := s.mac(key, expires)
	u := strings.TrimRight(s.BaseURL, "/") + "/" + escapeKey(key)
	return fmt.Sprintf("%s?expires=%d&sig=%s", u, expires, sig), nil
}

// Verify checks the expires and sig query values for key.
func (s URLSigner) Verify(key, expiresRaw, sig string) error {
	if len(s.Key) == 0 {
		return ErrSignatureInvalid
	}
	expires, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	want := s.mac(key, expires)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrSignatureInvalid
	}
	if s.now().Unix() > expires {
		return ErrSignatureExpired
	}
	return nil
}

func (s URLSigner) mac(key string, expires int64) string {
	h := hmac.New(sha256.New, s.Key)
	fmt.Fprintf(h, "%s\n%d", key, expires)
	return hex.EncodeToString(h.Sum(nil))
}

func (s URLSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func escapeKey(key string) string {
	parts := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

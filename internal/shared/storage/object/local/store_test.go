package local

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"finsight-backend/internal/shared/storage/object"
)

func newTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	return New(t.TempDir(), object.URLSigner{
		BaseURL: "http://localhost:8080/api/v1/blobs",
		Key:     []byte("test-key"),
		Now:     func() time.Time { return now },
	})
}

func TestSaveAndDownload(t *testing.T) {
	store := newTestStore(t, time.Now())
	ctx := context.Background()

	saved, err := object.Save(ctx, store, "user-1", "revenue.csv", strings.NewReader("month,revenue\nJan,10\n"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.MimeType != "text/csv" {
		t.Fatalf("expected text/csv, got %s", saved.MimeType)
	}
	data, err := store.Download(ctx, saved.Key)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Contains(data, []byte("Jan,10")) {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestRejectsTraversal(t *testing.T) {
	store := newTestStore(t, time.Now())
	if _, err := store.Upload(context.Background(), "../escape.txt", "text/plain", strings.NewReader("x")); err == nil {
		t.Fatalf("expected traversal key to be rejected")
	}
}

func TestSignedURLServedByHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now()
	store := newTestStore(t, now)
	ctx := context.Background()

	if _, err := store.Upload(ctx, "abc/data.csv", "text/csv", strings.NewReader("a,b\n1,2\n")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	signed, err := store.SignedURL(ctx, "abc/data.csv", 10*time.Minute)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}

	r := gin.New()
	r.GET("/api/v1/blobs/*path", store.Handler())

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), "1,2") {
		t.Fatalf("unexpected body %q", resp.Body.String())
	}
	if got := resp.Header().Get("Content-Disposition"); got != `attachment; filename="data.csv"` {
		t.Fatalf("unexpected Content-Disposition %q", got)
	}

	tampered := strings.Replace(u.RequestURI(), "data.csv", "other.csv", 1)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, tampered, nil))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for tampered path, got %d", resp.Code)
	}
}

func TestSignedURLExpires(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	signer := object.URLSigner{BaseURL: "http://x/blobs", Key: []byte("k"), Now: func() time.Time { return issued }}
	signed, err := signer.Sign("a/b.csv", time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	u, _ := url.Parse(signed)
	q := u.Query()

	later := signer
	later.Now = func() time.Time { return issued.Add(2 * time.Minute) }
	if err := later.Verify("a/b.csv", q.Get("expires"), q.Get("sig")); err != object.ErrSignatureExpired {
		t.Fatalf("expected ErrSignatureExpired, got %v", err)
	}
	if err := signer.Verify("a/b.csv", q.Get("expires"), q.Get("sig")); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t, time.Now())
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	missing := New(t.TempDir()+"/absent", object.URLSigner{})
	if err := missing.Ping(context.Background()); err == nil {
		t.Fatalf("expected error for missing root")
	}
}

package datasets

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"finsight-backend/internal/docstore"
	"finsight-backend/internal/identity"
	"finsight-backend/internal/shared/storage/object"
	"finsight-backend/internal/shared/storage/object/local"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	blobs := local.New(t.TempDir(), object.URLSigner{BaseURL: "http://localhost/api/v1/blobs", Key: []byte("k")})
	return &Service{Blobs: blobs, Repo: &DocRepo{Store: docstore.NewMemoryStore()}}
}

func TestUploadInfersSchemaAndCachesSamples(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := identity.Principal{UserID: "owner", TeamID: "team-1"}

	var csv strings.Builder
	csv.WriteString("month,revenue\n")
	for i := 0; i < 12; i++ {
		csv.WriteString("M,100\n")
	}
	ds, err := svc.Upload(ctx, owner, UploadInput{FileName: "rev.csv", Name: "Revenue", ShareWithTeam: true}, strings.NewReader(csv.String()))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if ds.TeamID != "team-1" || ds.RowCount != 12 {
		t.Fatalf("unexpected dataset %+v", ds)
	}
	if len(ds.SampleRows) != MaxSampleRows {
		t.Fatalf("expected %d cached rows, got %d", MaxSampleRows, len(ds.SampleRows))
	}
	if ds.Schema[1].Type != TypeInteger {
		t.Fatalf("expected integer revenue, got %s", ds.Schema[1].Type)
	}

	teammate := identity.Principal{UserID: "mate", TeamID: "team-1"}
	if _, err := svc.Get(ctx, ds.ID, teammate); err != nil {
		t.Fatalf("teammate should see shared dataset: %v", err)
	}
	stranger := identity.Principal{UserID: "stranger"}
	if _, err := svc.Get(ctx, ds.ID, stranger); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}

	listed, err := svc.List(ctx, teammate, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != ds.ID {
		t.Fatalf("expected shared dataset in teammate list, got %+v", listed)
	}
}

func TestSampleRowsFallsBackToBlob(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := identity.Principal{UserID: "owner"}

	ds, err := svc.Upload(ctx, owner, UploadInput{FileName: "a.csv"}, strings.NewReader("x,y\n1,2\n3,4\n"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	ds.SampleRows = nil
	rows, err := svc.SampleRows(ctx, ds, 1)
	if err != nil {
		t.Fatalf("SampleRows: %v", err)
	}
	if len(rows) != 1 || rows[0]["y"] != 2.0 {
		t.Fatalf("unexpected rows %+v", rows)
	}

	ds.StoragePath = "missing/file.csv"
	if _, err := svc.SampleRows(ctx, ds, 1); err == nil {
		t.Fatalf("expected error for missing blob")
	}
}

func TestUploadValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Upload(ctx, identity.Principal{UserID: "u"}, UploadInput{FileName: "a.csv", ShareWithTeam: true}, strings.NewReader("a\n1\n")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for team share without team, got %v", err)
	}
	if _, err := svc.Upload(ctx, identity.Principal{UserID: "u"}, UploadInput{FileName: "a.bin"}, strings.NewReader("\x00\x01")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for binary file, got %v", err)
	}
}

func TestSignedURLClampsTTL(t *testing.T) {
	svc := newTestService(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }
	ctx := context.Background()
	owner := identity.Principal{UserID: "owner"}
	ds, err := svc.Upload(ctx, owner, UploadInput{FileName: "a.csv"}, strings.NewReader("a\n1\n"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	u, expires, err := svc.SignedURL(ctx, ds.ID, owner, 72*time.Hour)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if !strings.Contains(u, "sig=") {
		t.Fatalf("expected signed url, got %s", u)
	}
	if !expires.Equal(now.Add(maxURLTTL)) {
		t.Fatalf("expected ttl clamp, got %s", expires)
	}
}

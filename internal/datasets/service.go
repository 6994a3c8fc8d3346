package datasets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"finsight-backend/internal/identity"
	"finsight-backend/internal/shared/storage/object"
	"finsight-backend/internal/shared/telemetry"
)

const (
	// MaxUploadBytes bounds dataset uploads.
	MaxUploadBytes = 25 << 20
	inferRows      = 200
	defaultURLTTL  = 15 * time.Minute
	maxURLTTL      = 24 * time.Hour
)

// Service handles dataset upload, access and row loading.
type Service struct {
	Blobs  object.BlobStore
	Repo   Repo
	Logger *telemetry.Logger
	Now    func() time.Time
}

// UploadInput describes a new dataset.
type UploadInput struct {
	FileName      string
	Name          string
	Description   string
	Metadata      map[string]string
	ShareWithTeam bool
}

// Upload stores the file, infers its schema and records the dataset.
func (s *Service) Upload(ctx context.Context, p identity.Principal, in UploadInput, r io.Reader) (Dataset, error) {
	in.FileName = strings.TrimSpace(in.FileName)
	if in.FileName == "" {
		return Dataset{}, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	if in.ShareWithTeam && !p.HasTeam() {
		return Dataset{}, fmt.Errorf("%w: user has no team to share with", ErrInvalidInput)
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return Dataset{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return Dataset{}, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidInput, MaxUploadBytes)
	}

	mimeType := object.DetectContentType(in.FileName, data)
	table, err := Parse(in.FileName, mimeType, data, inferRows)
	if err != nil {
		return Dataset{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	saved, err := object.Save(ctx, s.Blobs, p.UserID, in.FileName, bytes.NewReader(data))
	if errors.Is(err, object.ErrInvalidName) {
		return Dataset{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("store dataset blob: %w", err)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = in.FileName
	}
	ds := Dataset{
		OwnerID:     p.UserID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Metadata:    in.Metadata,
		StoragePath: saved.Key,
		FileName:    in.FileName,
		MimeType:    saved.MimeType,
		SizeBytes:   saved.SizeBytes,
		RowCount:    len(table.Rows),
		Schema:      InferSchema(table),
		SampleRows:  table.Records(MaxSampleRows),
		CreatedAt:   s.now(),
	}
	if in.ShareWithTeam {
		ds.TeamID = p.TeamID
	}
	created, err := s.Repo.Create(ctx, ds)
	if err != nil {
		return Dataset{}, err
	}
	s.Logger.Info("dataset.uploaded", map[string]any{
		"dataset_id": created.ID,
		"user_id":    p.UserID,
		"team_id":    created.TeamID,
		"columns":    len(created.Schema),
		"size_bytes": created.SizeBytes,
		"backend":    s.Blobs.Backend(),
	})
	return created, nil
}

// Get returns the dataset if p may access it.
func (s *Service) Get(ctx context.Context, id string, p identity.Principal) (Dataset, error) {
	ds, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Dataset{}, err
	}
	if !ds.CanAccess(p) {
		return Dataset{}, ErrAccessDenied
	}
	return ds, nil
}

// Lookup returns the dataset without an access check.
func (s *Service) Lookup(ctx context.Context, id string) (Dataset, error) {
	return s.Repo.Get(ctx, id)
}

// List returns the datasets p owns plus those shared with p's team.
func (s *Service) List(ctx context.Context, p identity.Principal, limit int) ([]Dataset, error) {
	owned, err := s.Repo.ListByOwner(ctx, p.UserID, limit)
	if err != nil {
		return nil, err
	}
	if !p.HasTeam() {
		return owned, nil
	}
	shared, err := s.Repo.ListByTeam(ctx, p.TeamID, limit)
	if err != nil {
		return nil, err
	}
	return mergeNewestFirst(owned, shared, limit), nil
}

// SignedURL returns a time-limited download link for the dataset blob.
func (s *Service) SignedURL(ctx context.Context, id string, p identity.Principal, ttl time.Duration) (string, time.Time, error) {
	ds, err := s.Get(ctx, id, p)
	if err != nil {
		return "", time.Time{}, err
	}
	if ttl <= 0 {
		ttl = defaultURLTTL
	}
	if ttl > maxURLTTL {
		ttl = maxURLTTL
	}
	u, err := s.Blobs.SignedURL(ctx, ds.StoragePath, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return u, s.now().Add(ttl), nil
}

// SampleRows returns up to limit rows, preferring the cached sample and
// falling back to downloading and parsing the blob.
func (s *Service) SampleRows(ctx context.Context, ds Dataset, limit int) ([]Row, error) {
	if len(ds.SampleRows) > 0 {
		rows := ds.SampleRows
		if limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}
		return rows, nil
	}
	return s.LoadRows(ctx, ds, limit)
}

// LoadRows downloads and parses the blob, returning up to limit rows.
func (s *Service) LoadRows(ctx context.Context, ds Dataset, limit int) ([]Row, error) {
	if ds.StoragePath == "" {
		return nil, errors.New("dataset has no stored file")
	}
	data, err := s.Blobs.Download(ctx, ds.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", ds.StoragePath, err)
	}
	table, err := Parse(ds.FileName, ds.MimeType, data, limit)
	if err != nil {
		return nil, err
	}
	return table.Records(limit), nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

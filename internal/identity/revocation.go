package identity

import (
	"context"
	"errors"
	"time"

	"finsight-backend/internal/docstore"
)

const revokedCollection = "revoked_tokens"

// RevocationList records token ids that must no longer be accepted.
type RevocationList interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

// DocstoreRevocations keeps revoked token ids in the revoked_tokens collection.
type DocstoreRevocations struct {
	Store docstore.Store
}

func (r DocstoreRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	_, err := r.Store.Get(ctx, revokedCollection, tokenID)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r DocstoreRevocations) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := r.Store.Create(ctx, revokedCollection, map[string]any{
		"id":        tokenID,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return nil
	}
	return err
}

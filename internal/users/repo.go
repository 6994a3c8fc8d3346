package users

import (
	"context"
	"errors"
	"fmt"

	"finsight-backend/internal/docstore"
)

const collection = "users"

var ErrNotFound = errors.New("user not found")

type Repo interface {
	Create(ctx context.Context, user User) (User, error)
	GetByID(ctx context.Context, userID string) (User, error)
	Update(ctx context.Context, userID string, fields map[string]any) (User, error)
}

// DocRepo stores users in the document store.
type DocRepo struct {
	Store docstore.Store
}

func (r *DocRepo) Create(ctx context.Context, user User) (User, error) {
	doc, err := docstore.ToMap(user)
	if err != nil {
		return User{}, fmt.Errorf("encode user: %w", err)
	}
	rec, err := r.Store.Create(ctx, collection, doc)
	if err != nil {
		return User{}, err
	}
	return decode(rec)
}

func (r *DocRepo) GetByID(ctx context.Context, userID string) (User, error) {
	rec, err := r.Store.Get(ctx, collection, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return decode(rec)
}

func (r *DocRepo) Update(ctx context.Context, userID string, fields map[string]any) (User, error) {
	rec, err := r.Store.Update(ctx, collection, userID, fields)
	if errors.Is(err, docstore.ErrNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return decode(rec)
}

func decode(rec docstore.Record) (User, error) {
	var u User
	if err := rec.Decode(&u); err != nil {
		return User{}, err
	}
	return u, nil
}

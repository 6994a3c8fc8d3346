package docstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps documents in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]Record
	now  func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[string]Record),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, collection string, data map[string]any) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	id, doc, err := prepareCreate(data)
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.docs[collection]
	if coll == nil {
		coll = make(map[string]Record)
		s.docs[collection] = coll
	}
	if _, ok := coll[id]; ok {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrAlreadyExists, collection, id)
	}
	now := s.now()
	rec := Record{ID: id, Data: doc, Version: 1, CreatedAt: now, UpdatedAt: now}
	coll[id] = rec
	return copyRecord(rec)
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	rec, ok := s.docs[collection][id]
	s.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	return copyRecord(rec)
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, partial map[string]any) (Record, error) {
	return s.update(ctx, collection, id, -1, partial)
}

func (s *MemoryStore) UpdateIf(ctx context.Context, collection, id string, version int64, partial map[string]any) (Record, error) {
	return s.update(ctx, collection, id, version, partial)
}

func (s *MemoryStore) update(ctx context.Context, collection, id string, version int64, partial map[string]any) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	patch, err := preparePartial(partial)
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[collection][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if version >= 0 && rec.Version != version {
		return Record{}, ErrVersionConflict
	}
	rec.Data = merge(rec.Data, patch)
	rec.Version++
	rec.UpdatedAt = s.now()
	s.docs[collection][id] = rec
	return copyRecord(rec)
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[collection][id]; !ok {
		return ErrNotFound
	}
	delete(s.docs[collection], id)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, conds []Condition, opts QueryOptions) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(conds, opts); err != nil {
		return nil, err
	}
	wants := make([]any, len(conds))
	for i, c := range conds {
		v, err := normalize(map[string]any{"v": c.Value})
		if err != nil {
			return nil, fmt.Errorf("normalize condition %s: %w", c.Field, err)
		}
		wants[i] = v["v"]
	}

	s.mu.RLock()
	var matched []Record
	for _, rec := range s.docs[collection] {
		ok := true
		for i, c := range conds {
			if !reflect.DeepEqual(rec.Data[c.Field], wants[i]) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	if opts.OrderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			less := lessValue(matched[i].Data[opts.OrderBy], matched[j].Data[opts.OrderBy])
			if opts.Direction == Desc {
				return lessValue(matched[j].Data[opts.OrderBy], matched[i].Data[opts.OrderBy])
			}
			return less
		})
	} else {
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]Record, 0, len(matched))
	for _, rec := range matched {
		cp, err := copyRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func copyRecord(rec Record) (Record, error) {
	data, err := normalize(rec.Data)
	if err != nil {
		return Record{}, err
	}
	rec.Data = data
	return rec, nil
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av < bv
	case float64:
		bv, ok := b.(float64)
		return ok && av < bv
	case bool:
		bv, ok := b.(bool)
		return ok && !av && bv
	case nil:
		return b != nil
	default:
		return false
	}
}

var _ Store = (*MemoryStore)(nil)

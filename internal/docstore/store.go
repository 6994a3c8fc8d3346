// Package docstore is a collection/id keyed store of JSON documents with
// partial-merge updates and version compare-and-swap.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrVersionConflict is returned by UpdateIf when the stored version moved.
	ErrVersionConflict = errors.New("document version conflict")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrInvalidField is returned for field names outside [A-Za-z0-9_].
	ErrInvalidField = errors.New("invalid field name")
)

// Record is one stored document. Data always carries the "id" key.
type Record struct {
	ID        string
	Data      map[string]any
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decode unmarshals the record data into v.
func (r Record) Decode(v any) error {
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode record %s: %w", r.ID, err)
	}
	return nil
}

// Condition is an equality match on a top-level field.
type Condition struct {
	Field string
	Value any
}

// Where builds a Condition.
func Where(field string, value any) Condition {
	return Condition{Field: field, Value: value}
}

// Direction orders query results.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// QueryOptions controls ordering and size of a query.
type QueryOptions struct {
	OrderBy   string
	Direction Direction
	Limit     int
}

// Store is the document store contract shared by every backend.
type Store interface {
	// Create inserts data. If data["id"] is empty a uuid is assigned.
	Create(ctx context.Context, collection string, data map[string]any) (Record, error)
	Get(ctx context.Context, collection, id string) (Record, error)
	// Update merges partial into the top level of the stored document.
	Update(ctx context.Context, collection, id string, partial map[string]any) (Record, error)
	// UpdateIf is Update guarded by the expected version.
	UpdateIf(ctx context.Context, collection, id string, version int64, partial map[string]any) (Record, error)
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, conds []Condition, opts QueryOptions) ([]Record, error)
	Ping(ctx context.Context) error
}

// TimeLayout is RFC 3339 with fixed-width nanoseconds. Stored timestamps
// are UTC in this layout so text ordering matches time ordering in every
// backend.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ToMap converts a struct into a document map through its JSON tags.
// Top-level time.Time values are written with FormatTime.
func ToMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	sortableTimes(reflect.ValueOf(v), out)
	return out, nil
}

var timeType = reflect.TypeOf(time.Time{})

func sortableTimes(v reflect.Value, out map[string]any) {
	v, ok := deref(v)
	if !ok {
		return
	}
	set := func(key string, field reflect.Value) {
		if _, present := out[key]; !present {
			return
		}
		if fv, ok := deref(field); ok && fv.Type() == timeType {
			out[key] = FormatTime(fv.Interface().(time.Time))
		}
	}
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return
		}
		iter := v.MapRange()
		for iter.Next() {
			set(iter.Key().String(), iter.Value())
		}
	case reflect.Struct:
		typ := v.Type()
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			if !f.IsExported() || f.Anonymous {
				continue
			}
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				continue
			}
			if name == "" {
				name = f.Name
			}
			set(name, v.Field(i))
		}
	}
}

func deref(v reflect.Value) (reflect.Value, bool) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func validateField(field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	return nil
}

func validateQuery(conds []Condition, opts QueryOptions) error {
	for _, c := range conds {
		if err := validateField(c.Field); err != nil {
			return err
		}
	}
	if opts.OrderBy != "" {
		if err := validateField(opts.OrderBy); err != nil {
			return err
		}
	}
	return nil
}

// normalize deep-copies data through JSON so every backend sees the same
// value shapes (float64 numbers, []any, map[string]any).
func normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	return ToMap(data)
}

func prepareCreate(data map[string]any) (string, map[string]any, error) {
	doc, err := normalize(data)
	if err != nil {
		return "", nil, fmt.Errorf("normalize document: %w", err)
	}
	id, _ := doc["id"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	doc["id"] = id
	return id, doc, nil
}

func preparePartial(partial map[string]any) (map[string]any, error) {
	doc, err := normalize(partial)
	if err != nil {
		return nil, fmt.Errorf("normalize update: %w", err)
	}
	delete(doc, "id")
	return doc, nil
}

func merge(dst, partial map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(partial))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

func jsonValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

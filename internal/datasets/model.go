package datasets

import (
	"errors"
	"time"

	"finsight-backend/internal/identity"
)

const (
	// MaxExamples is how many example values each column keeps.
	MaxExamples = 3
	// MaxSampleRows is how many rows are cached on the dataset record.
	MaxSampleRows = 5
)

var (
	ErrNotFound     = errors.New("dataset not found")
	ErrAccessDenied = errors.New("dataset access denied")
	ErrInvalidInput = errors.New("invalid dataset input")
	ErrUnsupported  = errors.New("unsupported dataset format")
	ErrEmptyDataset = errors.New("dataset has no header row")
)

// Column types produced by schema inference.
const (
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeDate    = "date"
	TypeBoolean = "boolean"
	TypeString  = "string"
)

type Column struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// Row is one data row keyed by column name. Numbers are float64.
type Row = map[string]any

type Dataset struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"ownerId"`
	TeamID      string            `json:"teamId,omitempty"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	StoragePath string            `json:"storagePath"`
	FileName    string            `json:"fileName"`
	MimeType    string            `json:"mimeType"`
	SizeBytes   int64             `json:"sizeBytes"`
	RowCount    int               `json:"rowCount"`
	Schema      []Column          `json:"schema"`
	SampleRows  []Row             `json:"sampleRows,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// CanAccess reports whether p owns the dataset or shares its team.
func (d Dataset) CanAccess(p identity.Principal) bool {
	if d.OwnerID != "" && d.OwnerID == p.UserID {
		return true
	}
	return d.TeamID != "" && p.HasTeam() && d.TeamID == p.TeamID
}

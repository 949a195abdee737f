package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/openfroyo/compconf/pkg/engine"
)

// ComponentRecord is the last known configuration of a component.
type ComponentRecord struct {
	ID         string                  `json:"id"`
	Definition string                  `json:"definition"`
	Name       string                  `json:"name"`
	Type       string                  `json:"type"`
	Properties string                  `json:"properties"` // JSON object, sensitive values masked
	Status     engine.ValidationStatus `json:"status"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// ValidationRecord is one completed validation pass of a component.
type ValidationRecord struct {
	ID          string                  `json:"id"`
	ComponentID string                  `json:"component_id"`
	Definition  string                  `json:"definition"`
	Status      engine.ValidationStatus `json:"status"`
	ResultCount int                     `json:"result_count"`
	Results     string                  `json:"results"` // JSON array of engine.ValidationResult
	Duration    time.Duration           `json:"duration"`
	ValidatedAt time.Time               `json:"validated_at"`
	CreatedAt   time.Time               `json:"created_at"`
}

// ValidationFilter narrows ListValidations. Nil fields match everything.
type ValidationFilter struct {
	ComponentID *string
	Definition  *string
	Status      *engine.ValidationStatus
	Since       *time.Time
	Limit       int
	Offset      int
}

// Store defines the interface for the validation history store
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Component operations
	UpsertComponent(ctx context.Context, component *ComponentRecord) error
	GetComponent(ctx context.Context, id string) (*ComponentRecord, error)
	ListComponents(ctx context.Context, definition *string, limit, offset int) ([]*ComponentRecord, error)
	DeleteComponent(ctx context.Context, id string) error

	// Validation operations
	RecordValidation(ctx context.Context, record *ValidationRecord) error
	GetValidation(ctx context.Context, id string) (*ValidationRecord, error)
	LatestValidation(ctx context.Context, componentID string) (*ValidationRecord, error)
	ListValidations(ctx context.Context, filter ValidationFilter) ([]*ValidationRecord, error)
	PruneValidations(ctx context.Context, before time.Time) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

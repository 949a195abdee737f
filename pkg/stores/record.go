package stores

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/compconf/pkg/engine"
)

const maskedValue = "********"

// ComponentSnapshot captures the configured properties of a node. Sensitive
// values are masked before they reach the store.
func ComponentSnapshot(definition string, node *engine.ComponentNode, status engine.ValidationStatus) (*ComponentRecord, error) {
	raw := node.RawPropertyValues()
	props := make(map[string]string, len(raw))
	for name, value := range raw {
		if d := node.Component().PropertyDescriptor(name); d != nil && d.Sensitive {
			value = maskedValue
		}
		props[name] = value
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties of %s: %w", node.ID(), err)
	}
	return &ComponentRecord{
		ID:         node.ID(),
		Definition: definition,
		Name:       node.Name(),
		Type:       node.Type(),
		Properties: string(data),
		Status:     status,
	}, nil
}

// NewValidationRecord builds a record for one validation pass.
func NewValidationRecord(definition, componentID string, status engine.ValidationStatus, results []engine.ValidationResult, duration time.Duration) (*ValidationRecord, error) {
	if results == nil {
		results = []engine.ValidationResult{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("failed to encode results of %s: %w", componentID, err)
	}
	return &ValidationRecord{
		ID:          uuid.NewString(),
		ComponentID: componentID,
		Definition:  definition,
		Status:      status,
		ResultCount: len(results),
		Results:     string(data),
		Duration:    duration,
		ValidatedAt: time.Now().UTC(),
	}, nil
}

// DecodeResults returns the results stored in the record.
func (r *ValidationRecord) DecodeResults() ([]engine.ValidationResult, error) {
	var results []engine.ValidationResult
	if err := json.Unmarshal([]byte(r.Results), &results); err != nil {
		return nil, fmt.Errorf("failed to decode results of %s: %w", r.ID, err)
	}
	return results, nil
}

// DecodeProperties returns the stored property values.
func (c *ComponentRecord) DecodeProperties() (map[string]string, error) {
	props := map[string]string{}
	if err := json.Unmarshal([]byte(c.Properties), &props); err != nil {
		return nil, fmt.Errorf("failed to decode properties of %s: %w", c.ID, err)
	}
	return props, nil
}

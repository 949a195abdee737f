package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are logged but do not invalidate a component.
	SeverityWarning Severity = "warning"

	// SeverityError invalidates the component.
	SeverityError Severity = "error"

	// SeverityCritical invalidates the component.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity invalidate a component.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module whose deny rules are evaluated against component
// configuration snapshots.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Builtin marks policies shipped with the validator. They survive reloads.
	Builtin bool `json:"builtin,omitempty" yaml:"-"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// UpdatedAt is when the policy was last loaded.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Violation is a single deny result.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Property is the offending property, empty for component-wide violations.
	Property string `json:"property,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Input is the document exposed to policies as `input`.
//
//	{
//	  "component": {"id": "...", "group_id": "...", "annotation_data": "..."},
//	  "properties": {
//	    "<name>": {
//	      "set": true, "value": "...", "raw": "...", "sensitive": false,
//	      "required": false, "dynamic": false, "service": false,
//	      "parameters": ["..."]
//	    }
//	  }
//	}
//
// Values of sensitive properties are never exposed; only "set" is.
type Input struct {
	Component  ComponentInput           `json:"component"`
	Properties map[string]PropertyInput `json:"properties"`
}

// ComponentInput describes the validated component.
type ComponentInput struct {
	ID             string `json:"id"`
	GroupID        string `json:"group_id,omitempty"`
	AnnotationData string `json:"annotation_data,omitempty"`
}

// PropertyInput describes a single property of the validated component.
type PropertyInput struct {
	Set        bool     `json:"set"`
	Value      *string  `json:"value,omitempty"`
	Raw        *string  `json:"raw,omitempty"`
	Sensitive  bool     `json:"sensitive"`
	Required   bool     `json:"required"`
	Dynamic    bool     `json:"dynamic"`
	Service    bool     `json:"service"`
	Parameters []string `json:"parameters,omitempty"`
}

// toMap renders the input as plain JSON-compatible values for evaluation.
func (in *Input) toMap() map[string]interface{} {
	props := make(map[string]interface{}, len(in.Properties))
	for name, p := range in.Properties {
		m := map[string]interface{}{
			"set":       p.Set,
			"sensitive": p.Sensitive,
			"required":  p.Required,
			"dynamic":   p.Dynamic,
			"service":   p.Service,
		}
		if p.Value != nil {
			m["value"] = *p.Value
		}
		if p.Raw != nil {
			m["raw"] = *p.Raw
		}
		params := make([]interface{}, len(p.Parameters))
		for i, name := range p.Parameters {
			params[i] = name
		}
		m["parameters"] = params
		props[name] = m
	}

	return map[string]interface{}{
		"component": map[string]interface{}{
			"id":              in.Component.ID,
			"group_id":        in.Component.GroupID,
			"annotation_data": in.Component.AnnotationData,
		},
		"properties": props,
	}
}

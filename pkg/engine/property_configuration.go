package engine

import (
	"github.com/openfroyo/compconf/pkg/parameter"
)

// PropertyConfiguration is the configured raw value of one property together
// with its parsed parameter references. It is replaced, never mutated.
type PropertyConfiguration struct {
	raw        string
	tokens     parameter.TokenList
	references parameter.TokenList
}

// NewPropertyConfiguration parses raw. The token list used for substitution is
// expression-language aware when elSupported is set; the reference list used
// for counting is always expression-language agnostic.
func NewPropertyConfiguration(raw string, elSupported bool) *PropertyConfiguration {
	references := parameter.ParseELAgnostic(raw)
	tokens := references
	if elSupported {
		tokens = parameter.ParseELAware(raw)
	}
	return &PropertyConfiguration{raw: raw, tokens: tokens, references: references}
}

// RawValue returns the configured text.
func (c *PropertyConfiguration) RawValue() string {
	return c.raw
}

// Tokens returns the token list used for substitution.
func (c *PropertyConfiguration) Tokens() parameter.TokenList {
	return c.tokens
}

// References returns every parameter reference in the raw value.
func (c *PropertyConfiguration) References() []parameter.Reference {
	return c.references.References()
}

// ReferencedNames returns the distinct parameter names referenced by the raw value.
func (c *PropertyConfiguration) ReferencedNames() []string {
	return c.references.Names()
}

// EffectiveValue substitutes parameter references against lookup.
func (c *PropertyConfiguration) EffectiveValue(lookup parameter.Lookup) string {
	return c.tokens.Substitute(lookup)
}

// Equal compares raw value and reference list. Nil configurations are equal
// to each other only.
func (c *PropertyConfiguration) Equal(other *PropertyConfiguration) bool {
	if c == nil || other == nil {
		return c == nil && other == nil
	}
	if c.raw != other.raw {
		return false
	}
	a, b := c.References(), other.References()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func effectiveValue(c *PropertyConfiguration, lookup parameter.Lookup) *string {
	if c == nil {
		return nil
	}
	v := c.EffectiveValue(lookup)
	return &v
}

func stringsEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

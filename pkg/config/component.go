package config

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/openfroyo/compconf/pkg/engine"
)

const maskedValue = "********"

// RuleSet contributes validation results for a component snapshot.
type RuleSet interface {
	Validate(ctx context.Context, vctx *engine.ValidationContext) ([]engine.ValidationResult, error)
}

// formatTags maps rule formats to validator tags.
var formatTags = map[string]string{
	"url":      "url",
	"uri":      "uri",
	"email":    "email",
	"hostname": "hostname_rfc1123",
	"ip":       "ip",
	"cidr":     "cidr",
	"number":   "numeric",
	"boolean":  "boolean",
}

type compiledRule struct {
	RuleConfig
	pattern *regexp.Regexp
}

// DefinitionComponent is a component whose properties and rules come from a
// ComponentConfig. Further rule sets, such as policies or scripts, are run
// after the declared rules.
type DefinitionComponent struct {
	config      *ComponentConfig
	descriptors []*engine.PropertyDescriptor
	byName      map[string]*engine.PropertyDescriptor
	rules       map[string][]compiledRule
	ruleSets    []RuleSet
	validate    *validator.Validate
	logger      zerolog.Logger
}

var _ engine.Component = (*DefinitionComponent)(nil)

// NewDefinitionComponent creates a component from its configuration.
func NewDefinitionComponent(cfg *ComponentConfig, logger zerolog.Logger, ruleSets ...RuleSet) (*DefinitionComponent, error) {
	c := &DefinitionComponent{
		config:   cfg,
		byName:   make(map[string]*engine.PropertyDescriptor, len(cfg.Descriptors)),
		rules:    make(map[string][]compiledRule),
		ruleSets: ruleSets,
		validate: validator.New(),
		logger:   logger.With().Str("component", "definition").Str("component_id", cfg.ID).Logger(),
	}

	for i := range cfg.Descriptors {
		dc := &cfg.Descriptors[i]
		d := dc.PropertyDescriptor
		if err := d.Validate(); err != nil {
			return nil, err
		}
		c.descriptors = append(c.descriptors, &d)
		c.byName[d.Name] = &d

		for _, r := range dc.Rules {
			cr := compiledRule{RuleConfig: r}
			if r.Pattern != "" {
				re, err := regexp.Compile("^(?:" + r.Pattern + ")$")
				if err != nil {
					return nil, engine.NewInvalidConfigurationError(
						fmt.Sprintf("invalid pattern for property %s", d.Name), err).
						WithCode(engine.ErrCodeInvalidDescriptor).
						WithResource(cfg.ID)
				}
				cr.pattern = re
			}
			c.rules[d.Name] = append(c.rules[d.Name], cr)
		}
	}
	return c, nil
}

// Config returns the configuration the component was created from.
func (c *DefinitionComponent) Config() *ComponentConfig {
	return c.config
}

func (c *DefinitionComponent) PropertyDescriptors() []*engine.PropertyDescriptor {
	return c.descriptors
}

func (c *DefinitionComponent) PropertyDescriptor(name string) *engine.PropertyDescriptor {
	return c.byName[name]
}

// CustomDescriptor accepts any user-defined property when dynamic properties
// are enabled. Dynamic properties support the expression language.
func (c *DefinitionComponent) CustomDescriptor(name string) *engine.PropertyDescriptor {
	if !c.config.DynamicProperties {
		return nil
	}
	return &engine.PropertyDescriptor{
		Name:                        name,
		Dynamic:                     true,
		ExpressionLanguageSupported: true,
	}
}

// Validate applies the declared value rules, then every rule set.
func (c *DefinitionComponent) Validate(ctx context.Context, vctx *engine.ValidationContext) ([]engine.ValidationResult, error) {
	var results []engine.ValidationResult
	for _, d := range vctx.Descriptors() {
		rules := c.rules[d.Name]
		if len(rules) == 0 || !vctx.IsDependencySatisfied(d) {
			continue
		}
		value := vctx.Property(d.Name)
		if value == nil {
			continue
		}
		for _, r := range rules {
			if explanation := c.check(r, *value); explanation != "" {
				input := *value
				if d.Sensitive {
					input = maskedValue
				}
				if r.Message != "" {
					explanation = r.Message
				}
				results = append(results, engine.InvalidResult(d.Name, input, explanation))
			}
		}
	}

	for _, rs := range c.ruleSets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		more, err := rs.Validate(ctx, vctx)
		if err != nil {
			return nil, err
		}
		results = append(results, more...)
	}
	return results, nil
}

// check returns why value breaks the rule, or "" if it does not.
func (c *DefinitionComponent) check(r compiledRule, value string) string {
	if r.pattern != nil && !r.pattern.MatchString(value) {
		return fmt.Sprintf("value must match %s", r.Pattern)
	}
	length := utf8.RuneCountInString(value)
	if r.MinLength != nil && length < *r.MinLength {
		return fmt.Sprintf("value must be at least %d characters", *r.MinLength)
	}
	if r.MaxLength != nil && length > *r.MaxLength {
		return fmt.Sprintf("value must be at most %d characters", *r.MaxLength)
	}
	if r.Format != "" {
		if err := c.validate.Var(value, formatTags[r.Format]); err != nil {
			return fmt.Sprintf("value is not a valid %s", r.Format)
		}
	}
	if r.Min != nil || r.Max != nil {
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "value is not a number"
		}
		if r.Min != nil && n < *r.Min {
			return fmt.Sprintf("value must be at least %s", strconv.FormatFloat(*r.Min, 'g', -1, 64))
		}
		if r.Max != nil && n > *r.Max {
			return fmt.Sprintf("value must be at most %s", strconv.FormatFloat(*r.Max, 'g', -1, 64))
		}
	}
	return ""
}

func (c *DefinitionComponent) OnPropertyModified(d *engine.PropertyDescriptor, oldValue, newValue *string) {
	c.logger.Debug().
		Str("property", d.Name).
		Bool("was_set", oldValue != nil).
		Bool("is_set", newValue != nil).
		Msg("Property modified")
}

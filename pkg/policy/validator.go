package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/compconf/pkg/engine"
)

// Validator evaluates Rego deny rules against component validation snapshots.
// Blocking violations become INVALID validation results; the rest are logged.
type Validator struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewValidator creates a validator with the built-in policies loaded.
func NewValidator(ctx context.Context, logger zerolog.Logger) (*Validator, error) {
	v := &Validator{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-validator").Logger(),
	}

	for _, p := range BuiltinPolicies() {
		if err := v.AddPolicy(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	v.logger.Debug().
		Int("count", len(v.policies)).
		Msg("Built-in policies loaded")
	return v, nil
}

// AddPolicy compiles a policy and adds it, replacing a policy of the same name.
func (v *Validator) AddPolicy(ctx context.Context, p Policy) error {
	cp, err := compile(ctx, p)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.policies[p.Name] = cp
	return nil
}

func compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("policy name is required")
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}

	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", p.Name, err)
	}
	if module == nil {
		return nil, fmt.Errorf("policy %s is empty", p.Name)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy %s: %w", p.Name, err)
	}

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	return &compiledPolicy{policy: &p, query: query, compiled: time.Now()}, nil
}

// LoadPolicies loads policy files from paths and adds them.
func (v *Validator) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(v.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	for _, p := range policies {
		if err := v.AddPolicy(ctx, p); err != nil {
			return err
		}
	}

	v.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded")
	return nil
}

// ReplacePolicies swaps every non built-in policy for the given set. The
// previous set stays active if any policy fails to compile.
func (v *Validator) ReplacePolicies(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for _, p := range policies {
		cp, err := compile(ctx, p)
		if err != nil {
			return err
		}
		compiled[p.Name] = cp
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for name, cp := range v.policies {
		if cp.policy.Builtin {
			if _, overridden := compiled[name]; !overridden {
				compiled[name] = cp
			}
		}
	}
	v.policies = compiled
	return nil
}

// Evaluate runs every enabled policy against input. Violations are ordered by
// policy name.
func (v *Validator) Evaluate(ctx context.Context, input *Input) ([]Violation, error) {
	v.mu.RLock()
	active := make([]compiledPolicy, 0, len(v.policies))
	for _, cp := range v.policies {
		if cp.policy.Enabled {
			active = append(active, *cp)
		}
	}
	v.mu.RUnlock()
	sort.Slice(active, func(i, j int) bool { return active[i].policy.Name < active[j].policy.Name })

	doc := input.toMap()
	var violations []Violation
	for _, cp := range active {
		rs, err := cp.query.Eval(ctx, rego.EvalInput(doc))
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}
		for _, result := range rs {
			if len(result.Expressions) == 0 {
				continue
			}
			denied, ok := result.Expressions[0].Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denied {
				violations = append(violations, newViolation(cp.policy, d))
			}
		}
	}
	return violations, nil
}

func newViolation(p *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if prop, ok := v["property"].(string); ok {
			violation.Property = prop
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}
	return violation
}

// Validate evaluates the policies against a validation snapshot. It can be
// used as an additional rule set of a component.
func (v *Validator) Validate(ctx context.Context, vctx *engine.ValidationContext) ([]engine.ValidationResult, error) {
	input := BuildInput(vctx)
	violations, err := v.Evaluate(ctx, input)
	if err != nil {
		return nil, err
	}

	var results []engine.ValidationResult
	for _, violation := range violations {
		if !violation.Severity.Blocking() {
			v.logger.Warn().
				Str("component_id", vctx.ComponentID()).
				Str("policy", violation.Policy).
				Str("property", violation.Property).
				Msg(violation.Message)
			continue
		}

		subject := violation.Property
		var value string
		if subject == "" {
			subject = "Policy " + violation.Policy
		} else if p, ok := input.Properties[subject]; ok && p.Value != nil {
			value = *p.Value
		}
		results = append(results, engine.InvalidResult(subject, value, violation.Message))
	}
	return results, nil
}

// BuildInput renders a validation snapshot as policy input.
func BuildInput(vctx *engine.ValidationContext) *Input {
	input := &Input{
		Component: ComponentInput{
			ID:             vctx.ComponentID(),
			GroupID:        vctx.GroupID(),
			AnnotationData: vctx.AnnotationData(),
		},
		Properties: make(map[string]PropertyInput),
	}

	for _, d := range vctx.Descriptors() {
		value := vctx.Property(d.Name)
		p := PropertyInput{
			Set:        value != nil,
			Sensitive:  d.Sensitive,
			Required:   d.Required,
			Dynamic:    d.Dynamic,
			Service:    d.IdentifiesControllerService(),
			Parameters: vctx.ReferencedParameters(d.Name),
		}
		if !d.Sensitive {
			p.Value = value
			if raw, ok := vctx.RawValue(d.Name); ok {
				p.Raw = &raw
			}
		}
		input.Properties[d.Name] = p
	}
	return input
}

// Policy returns a copy of the named policy.
func (v *Validator) Policy(name string) (Policy, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	cp, ok := v.policies[name]
	if !ok {
		return Policy{}, false
	}
	return *cp.policy, true
}

// ListPolicies returns all loaded policies sorted by name.
func (v *Validator) ListPolicies() []Policy {
	v.mu.RLock()
	defer v.mu.RUnlock()

	policies := make([]Policy, 0, len(v.policies))
	for _, cp := range v.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// EnablePolicy enables a policy by name.
func (v *Validator) EnablePolicy(name string) error {
	return v.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (v *Validator) DisablePolicy(name string) error {
	return v.setEnabled(name, false)
}

func (v *Validator) setEnabled(name string, enabled bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	cp, ok := v.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	p.Enabled = enabled
	cp.policy = &p

	v.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")
	return nil
}

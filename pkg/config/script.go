package config

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/compconf/pkg/engine"
)

// DefaultMaxScriptSteps bounds the work of a single validate call.
const DefaultMaxScriptSteps = 1_000_000

// ScriptRules validates a component with a Starlark script. The script must
// define validate(properties) or validate(properties, component):
//
//	def validate(properties):
//	    if properties["Retries"] and int(properties["Retries"]) > 10:
//	        return invalid("Retries", properties["Retries"], "at most 10 retries are allowed")
//	    return None
//
// properties maps every non-sensitive property to its effective value or None.
// component is a struct with id, group and annotation_data. validate returns
// None, a string, an invalid(...) result, or a list of those.
type ScriptRules struct {
	name     string
	fn       *starlark.Function
	logger   zerolog.Logger
	MaxSteps uint64
}

var _ RuleSet = (*ScriptRules)(nil)

// NewScriptRules executes src once and returns rules calling its validate function.
func NewScriptRules(name, src string, logger zerolog.Logger) (*ScriptRules, error) {
	s := &ScriptRules{
		name:     name,
		logger:   logger.With().Str("component", "script-rules").Str("script", name).Logger(),
		MaxSteps: DefaultMaxScriptSteps,
	}

	thread := s.newThread()
	globals, err := starlark.ExecFile(thread, name, src, predeclared())
	if err != nil {
		return nil, fmt.Errorf("failed to execute script %s: %w", name, err)
	}
	globals.Freeze()

	fn, ok := globals["validate"].(*starlark.Function)
	if !ok {
		return nil, fmt.Errorf("script %s does not define a validate function", name)
	}
	if n := fn.NumParams(); n < 1 || n > 2 {
		return nil, fmt.Errorf("validate in %s must take properties and optionally component, got %d parameters", name, n)
	}
	s.fn = fn
	return s, nil
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct":  starlark.NewBuiltin("struct", starlarkstruct.Make),
		"invalid": starlark.NewBuiltin("invalid", builtinInvalid),
	}
}

func (s *ScriptRules) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Name: s.name,
		Print: func(_ *starlark.Thread, msg string) {
			s.logger.Debug().Str("output", msg).Msg("Script output")
		},
	}
	if s.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(s.MaxSteps)
	}
	return thread
}

func (s *ScriptRules) subject() string {
	return "Script " + s.name
}

// Validate calls the script's validate function with the snapshot.
func (s *ScriptRules) Validate(ctx context.Context, vctx *engine.ValidationContext) ([]engine.ValidationResult, error) {
	props := starlark.NewDict(len(vctx.Descriptors()))
	for _, d := range vctx.Descriptors() {
		if d.Sensitive {
			continue
		}
		var v starlark.Value = starlark.None
		if value := vctx.Property(d.Name); value != nil {
			v = starlark.String(*value)
		}
		if err := props.SetKey(starlark.String(d.Name), v); err != nil {
			return nil, err
		}
	}
	props.Freeze()

	args := starlark.Tuple{props}
	if s.fn.NumParams() == 2 {
		args = append(args, starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
			"id":              starlark.String(vctx.ComponentID()),
			"group":           starlark.String(vctx.GroupID()),
			"annotation_data": starlark.String(vctx.AnnotationData()),
		}))
	}

	thread := s.newThread()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	ret, err := starlark.Call(thread, s.fn, args, nil)
	if err != nil {
		return nil, fmt.Errorf("script %s failed: %w", s.name, err)
	}
	return s.results(ret, vctx)
}

func (s *ScriptRules) results(ret starlark.Value, vctx *engine.ValidationContext) ([]engine.ValidationResult, error) {
	switch v := ret.(type) {
	case starlark.NoneType:
		return nil, nil
	case *starlark.List:
		var results []engine.ValidationResult
		for i := 0; i < v.Len(); i++ {
			r, err := s.result(v.Index(i), vctx)
			if err != nil {
				return nil, err
			}
			results = append(results, r)
		}
		return results, nil
	default:
		r, err := s.result(ret, vctx)
		if err != nil {
			return nil, err
		}
		return []engine.ValidationResult{r}, nil
	}
}

func (s *ScriptRules) result(v starlark.Value, vctx *engine.ValidationContext) (engine.ValidationResult, error) {
	switch v := v.(type) {
	case starlark.String:
		return engine.InvalidResult(s.subject(), "", string(v)), nil
	case *starlark.Dict:
		subject, _ := dictString(v, "subject")
		input, _ := dictString(v, "input")
		explanation, ok := dictString(v, "explanation")
		if !ok || explanation == "" {
			return engine.ValidationResult{}, fmt.Errorf("script %s returned a result without explanation", s.name)
		}
		if subject == "" {
			subject = s.subject()
		} else if d := vctx.Descriptor(subject); d != nil && d.Sensitive && input != "" {
			input = maskedValue
		}
		return engine.InvalidResult(subject, input, explanation), nil
	}
	return engine.ValidationResult{}, fmt.Errorf("script %s returned %s, want None, string, dict or list", s.name, v.Type())
}

func dictString(d *starlark.Dict, key string) (string, bool) {
	v, found, err := d.Get(starlark.String(key))
	if err != nil || !found {
		return "", false
	}
	s, ok := starlark.AsString(v)
	return s, ok
}

// builtinInvalid implements invalid(subject, input, explanation).
func builtinInvalid(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var subject, explanation string
	var input starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "subject", &subject, "input", &input, "explanation", &explanation); err != nil {
		return nil, err
	}
	d := starlark.NewDict(3)
	_ = d.SetKey(starlark.String("subject"), starlark.String(subject))
	if s, ok := starlark.AsString(input); ok {
		_ = d.SetKey(starlark.String("input"), starlark.String(s))
	}
	_ = d.SetKey(starlark.String("explanation"), starlark.String(explanation))
	return d, nil
}

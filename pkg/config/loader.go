package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"cuelang.org/go/cue"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/compconf/pkg/bundle"
)

// InlineSource is the source of definitions that were not read from a file.
const InlineSource = "inline"

// Loader reads component definitions from YAML, JSON or CUE documents.
//
// A document is checked against the #Definition CUE schema first so that
// structural mistakes are reported with file positions. It is then decoded,
// validated with struct tags and checked for semantic consistency.
type Loader struct {
	schemas  *SchemaRegistry
	validate *validator.Validate
}

// NewLoader creates a definition loader.
func NewLoader() *Loader {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Loader{
		schemas:  NewSchemaRegistry(),
		validate: v,
	}
}

// Schemas returns the schema registry used by the loader.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// LoadFile loads a definition from a .yaml, .yml, .json or .cue file.
func (l *Loader) LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	return l.Parse(data, path)
}

// Parse parses a definition. The format is chosen by the extension of
// source; anything but .cue is read as YAML.
func (l *Loader) Parse(data []byte, source string) (*Definition, error) {
	if source == "" {
		source = InlineSource
	}
	isCUE := filepath.Ext(source) == ".cue"

	val, errs := l.build(data, source, isCUE)
	if len(errs) > 0 {
		return nil, &DefinitionError{Source: source, Errors: errs}
	}
	unified, errs := l.schemas.Check("Definition", val)
	if len(errs) > 0 {
		return nil, &DefinitionError{Source: source, Errors: errs}
	}

	if isCUE {
		// JSON is valid YAML, so both formats share the decoder below
		exported, err := unified.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to export %s: %w", source, err)
		}
		data = exported
	}
	return l.decode(data, source)
}

func (l *Loader) build(data []byte, source string, isCUE bool) (cue.Value, []ValidationError) {
	ctx := l.schemas.Context()
	if isCUE {
		val := ctx.CompileBytes(data, cue.Filename(source))
		if err := val.Err(); err != nil {
			return cue.Value{}, convertCUEErrors(err)
		}
		return val, nil
	}

	file, err := cueyaml.Extract(source, data)
	if err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	val := ctx.BuildFile(file)
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

func (l *Loader) decode(data []byte, source string) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", source, err)
	}
	def.Source = source

	var errs []ValidationError
	if err := l.validate.Struct(&def); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, fmt.Errorf("failed to validate %s: %w", source, err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				File:    source,
				Path:    fe.Namespace(),
				Message: fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
			})
		}
	}
	for _, ve := range checkDefinition(&def) {
		ve.File = source
		errs = append(errs, ve)
	}
	if len(errs) > 0 {
		return nil, &DefinitionError{Source: source, Errors: errs}
	}
	return &def, nil
}

// checkDefinition reports problems struct tags cannot express.
func checkDefinition(def *Definition) []ValidationError {
	var errs []ValidationError
	fail := func(path, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if def.Parameters != nil {
		seen := make(map[string]bool)
		for i, p := range def.Parameters.Parameters {
			if seen[p.Name] {
				fail(fmt.Sprintf("parameter_context.parameters[%d]", i), "duplicate parameter %q", p.Name)
			}
			seen[p.Name] = true
		}
	}

	services := make(map[string]bool)
	for i, s := range def.Services {
		path := fmt.Sprintf("services[%d]", i)
		if services[s.ID] {
			fail(path, "duplicate controller service %q", s.ID)
		}
		services[s.ID] = true
		if _, err := bundle.ParseCoordinate(s.Bundle); err != nil {
			fail(path+".bundle", "%v", err)
		}
	}

	components := make(map[string]bool)
	for i := range def.Components {
		c := &def.Components[i]
		path := fmt.Sprintf("components[%d]", i)
		if components[c.ID] {
			fail(path, "duplicate component %q", c.ID)
		}
		components[c.ID] = true
		if c.Bundle != "" {
			if _, err := bundle.ParseCoordinate(c.Bundle); err != nil {
				fail(path+".bundle", "%v", err)
			}
		}
		if c.Script != "" && c.ScriptFile != "" {
			fail(path, "script and script_file are mutually exclusive")
		}

		declared := make(map[string]bool)
		for j := range c.Descriptors {
			d := &c.Descriptors[j]
			dpath := fmt.Sprintf("%s.descriptors[%d]", path, j)
			if declared[d.Name] {
				fail(dpath, "duplicate property %q", d.Name)
			}
			declared[d.Name] = true
			if err := d.PropertyDescriptor.Validate(); err != nil {
				fail(dpath, "%v", err)
			}
			for k, r := range d.Rules {
				errs = append(errs, checkRule(fmt.Sprintf("%s.rules[%d]", dpath, k), r)...)
			}
		}
		for j, d := range c.Descriptors {
			for _, dep := range d.Dependencies {
				if !declared[dep.PropertyName] {
					fail(fmt.Sprintf("%s.descriptors[%d].dependencies", path, j),
						"property %q depends on undeclared property %q", d.Name, dep.PropertyName)
				}
			}
		}
		if !c.DynamicProperties {
			for name := range c.Properties {
				if !declared[name] {
					fail(path+".properties", "property %q is not supported by %s and dynamic properties are disabled", name, c.Type)
				}
			}
		}
	}
	return errs
}

func checkRule(path string, r RuleConfig) []ValidationError {
	var errs []ValidationError
	if r.Pattern != "" {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			errs = append(errs, ValidationError{Path: path + ".pattern", Message: err.Error()})
		}
	}
	if r.MinLength != nil && r.MaxLength != nil && *r.MinLength > *r.MaxLength {
		errs = append(errs, ValidationError{Path: path, Message: "min_length exceeds max_length"})
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		errs = append(errs, ValidationError{Path: path, Message: "min exceeds max"})
	}
	return errs
}

// ResolvePath resolves p against the directory of the definition source.
func (d *Definition) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || d.Source == "" || d.Source == InlineSource {
		return p
	}
	return filepath.Join(filepath.Dir(d.Source), p)
}

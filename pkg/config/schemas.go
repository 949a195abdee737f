package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// SchemaRegistry holds CUE definitions that documents are checked against.
type SchemaRegistry struct {
	ctx *cue.Context

	mu      sync.RWMutex
	schemas map[string]cue.Value
}

// NewSchemaRegistry creates a registry holding the built-in definition
// schemas. Each schema is registered under the name of its CUE definition
// without the leading '#'.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	root := sr.ctx.CompileString(builtinSchemas, cue.Filename("schemas.cue"))
	if err := root.Err(); err != nil {
		panic(fmt.Sprintf("built-in schemas do not compile: %v", err))
	}
	for _, name := range []string{
		"Coordinate", "Bundle", "Parameter", "ParameterContext", "Service",
		"Rule", "Descriptor", "Component", "Definition",
	} {
		sr.schemas[name] = root.LookupPath(cue.MakePath(cue.Def(name)))
	}
	return sr
}

// Context returns the CUE context values must be built in to be checked.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles src and registers the definition #name it declares.
func (sr *SchemaRegistry) RegisterSchema(name, src string) error {
	val := sr.ctx.CompileString(src, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.MakePath(cue.Def(name)))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not declare #%s", name, name)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = def
	return nil
}

// Schema returns a registered schema.
func (sr *SchemaRegistry) Schema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	val, ok := sr.schemas[name]
	return val, ok
}

// ListSchemas returns the registered schema names sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check unifies val with the named schema and returns the concrete result.
// Violations are returned as ValidationErrors carrying the source positions
// of val.
func (sr *SchemaRegistry) Check(name string, val cue.Value) (cue.Value, []ValidationError) {
	schema, ok := sr.Schema(name)
	if !ok {
		return cue.Value{}, []ValidationError{{Message: fmt.Sprintf("schema %s not found", name)}}
	}
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return unified, nil
}

// Validate checks a Go value against the named schema.
func (sr *SchemaRegistry) Validate(name string, data interface{}) error {
	val := sr.ctx.Encode(data)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if _, errs := sr.Check(name, val); len(errs) > 0 {
		return &DefinitionError{Source: "#" + name, Errors: errs}
	}
	return nil
}

func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Path: strings.Join(e.Path(), ".")}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		format, args := e.Msg()
		ve.Message = fmt.Sprintf(format, args...)
		out = append(out, ve)
	}
	return out
}

const builtinSchemas = `
#Scalar: string | number | bool

#Coordinate: {
	group:    string & !=""
	artifact: string & !=""
	version:  string & !=""
}

// group:artifact:version
#CoordinateString: =~"^[^:]+:[^:]+:[^:]+$"

#Method: {
	name:     string & !=""
	params?:  [...string]
	results?: [...string]
}

#TypeInfo: {
	name:       string & !=""
	interface?: bool
	methods?:   [...#Method]
}

#Bundle: {
	#Coordinate
	dependency?: #Coordinate
	archive?:    string
	checksum?:   =~"^[0-9a-fA-F]{64}$"
	types:       [#TypeInfo, ...#TypeInfo]
}

#Parameter: {
	name:         =~"^[A-Za-z0-9 ._-]+$"
	value?:       #Scalar | null
	sensitive?:   bool
	description?: string
}

#ParameterContext: {
	id:          string & !=""
	name?:       string
	file?:       string
	parameters?: [...#Parameter]
}

#Service: {
	id:          string & !=""
	type:        string & !=""
	bundle:      #CoordinateString
	state?:      "DISABLED" | "ENABLING" | "ENABLED"
	properties?: {[string]: #Scalar}
}

#Rule: {
	pattern?:    string & !=""
	min_length?: int & >=0
	max_length?: int & >=0
	format?:     "url" | "uri" | "email" | "hostname" | "ip" | "cidr" | "number" | "boolean"
	min?:        number
	max?:        number
	message?:    string
}

#Descriptor: {
	name:                 string & !=""
	display_name?:        string
	description?:         string
	required?:            bool
	sensitive?:           bool
	expression_language?: bool
	service_api?: {
		type:    string & !=""
		bundle?: #Coordinate
	}
	dynamic?:            bool
	classpath_modifier?: bool
	default_value?:      #Scalar
	allowable_values?:   [...#Scalar]
	dependencies?: [...{
		property: string & !=""
		values?:  [...#Scalar]
	}]
	rules?: [...#Rule]
}

#Component: {
	id:                  string & !=""
	name?:               string
	type:                string & !=""
	bundle?:             #CoordinateString
	annotation_data?:    string
	dynamic_properties?: bool
	classpath_dir?:      string
	descriptors?:        [...#Descriptor]
	properties?:         {[string]: #Scalar | null}
	script?:             string
	script_file?:        string
}

#Definition: {
	name:               string & !=""
	bundle_dirs?:       [...string]
	bundles?:           [...#Bundle]
	parameter_context?: #ParameterContext
	services?:          [...#Service]
	components:         [#Component, ...#Component]
	policies?:          [...string]
}
`

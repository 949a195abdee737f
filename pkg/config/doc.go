// Package config turns declarative definition files into running component
// validation environments.
//
// # Overview
//
// A definition describes a set of components, the controller services they
// reference, the parameter context their property values are resolved
// against, and any Rego policies that apply on top of the declared property
// rules. Definitions are written in YAML or CUE and are checked against the
// built-in CUE schemas before they are decoded, so structural errors carry
// file positions.
//
// # Components
//
// Loader: parses and checks definition files. Structural checks come from the
// CUE schemas in SchemaRegistry, field checks from validator tags, and the
// cross references (duplicate ids, undeclared dependencies, rule bounds) from
// the loader itself.
//
// DefinitionComponent: an engine.Component whose descriptors and rules come
// from a ComponentConfig. Rules cover patterns, lengths, formats and numeric
// ranges and always run against the effective value of a property.
//
// ScriptRules: component-wide rules written in Starlark. A script defines
// validate(properties) or validate(properties, component) and returns None,
// a string, a dict, or a list of results built with invalid().
//
// ParameterWatcher: keeps a parameter context in sync with a parameter file
// on disk.
//
// Environment: the result of Build. It owns the bundle registry, service
// registry, parameter context, policy validator, scheduler and one
// engine.ComponentNode per component.
//
// # Usage Example
//
//	def, err := config.NewLoader().LoadFile("checkout.yaml")
//	if err != nil {
//	    return err
//	}
//	env, err := config.Build(ctx, def, config.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	env.Start(ctx)
//	defer env.Stop()
//
//	reports, err := env.Await(ctx, 10*time.Second)
//
// # Definition Structure
//
//	name: checkout
//	bundle_dirs: [bundles]
//	services:
//	  - id: http-pool
//	    type: StandardHttpClientService
//	    bundle: org.example:http-impl:1.0.0
//	    state: ENABLED
//	parameter_context:
//	  id: ctx-1
//	  file: params.yaml
//	policies: [policies]
//	components:
//	  - id: invoke
//	    type: InvokeHTTP
//	    descriptors:
//	      - name: Remote URL
//	        required: true
//	        expression_language: true
//	        rules: [{format: url}]
//	    properties:
//	      Remote URL: "https://#{host}/pay"
//
// Relative paths (bundle directories, parameter files, policy paths, script
// files and classpath directories) are resolved against the directory of the
// definition file.
package config

// Package policy evaluates Open Policy Agent (OPA) Rego policies against
// component configuration.
//
// A Validator holds compiled policies. Each policy is a Rego module whose
// `deny` set is queried with an Input document built from the validation
// snapshot of a component:
//
//	package acme.http
//
//	import rego.v1
//
//	deny contains violation if {
//		url := input.properties["Remote URL"].value
//		not startswith(url, "https://")
//		violation := {
//			"property": "Remote URL",
//			"message": "remote URL must use https",
//		}
//	}
//
// A violation is either a string or an object with "message" and the optional
// "property" and "severity" keys. Violations with severity error or critical
// become INVALID validation results; info and warning violations are logged.
// Values of sensitive properties are never part of the input.
//
// Policies are loaded from .rego files, or from JSON or YAML documents with
// the fields of Policy. Loader.Watch reloads them when files change:
//
//	loader := policy.NewLoader(logger)
//	err := loader.Watch(ctx, paths, func(ps []policy.Policy) error {
//	    return validator.ReplacePolicies(ctx, ps)
//	})
//
// Built-in policies only warn, so they never change whether a component is
// valid.
package policy

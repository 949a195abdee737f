package policy

// BuiltinPolicies returns the policies every validator starts with. They only
// produce warnings, so they never change whether a component is valid.
func BuiltinPolicies() []Policy {
	return []Policy{
		sensitiveLiteralPolicy(),
		dynamicPropertyNamingPolicy(),
	}
}

// sensitiveLiteralPolicy flags sensitive properties configured with a literal
// secret instead of a sensitive parameter reference.
func sensitiveLiteralPolicy() Policy {
	return Policy{
		Name:        "sensitive-literal",
		Description: "Sensitive properties should reference a sensitive parameter instead of holding a literal value",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"security"},
		Rego: `package compconf.builtin.sensitive

import rego.v1

deny contains violation if {
	some name, prop in input.properties
	prop.sensitive
	prop.set
	count(prop.parameters) == 0
	violation := {
		"property": name,
		"message": sprintf("sensitive property %s holds a literal value instead of a parameter reference", [name]),
		"severity": "warning",
	}
}
`,
	}
}

// dynamicPropertyNamingPolicy enforces a conservative naming convention for
// user-defined properties.
func dynamicPropertyNamingPolicy() Policy {
	return Policy{
		Name:        "dynamic-property-naming",
		Description: "User-defined property names start with a letter or digit and use letters, digits, spaces, dots, underscores and hyphens",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package compconf.builtin.naming

import rego.v1

deny contains violation if {
	some name, prop in input.properties
	prop.dynamic
	not regex.match("^[A-Za-z0-9][A-Za-z0-9 ._-]*$", name)
	violation := {
		"property": name,
		"message": sprintf("user-defined property name '%s' does not follow the naming convention", [name]),
		"severity": "warning",
	}
}
`,
	}
}

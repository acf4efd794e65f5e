// Package schema compiles CUE entity definitions into runnable graph
// nodes: a property table plus a rule set registered in declaration
// order.
package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// PropertyDef declares one property and its value type.
type PropertyDef struct {
	Name string
	Type string // string, int, bool, array, object
}

// RuleDef declares one validation rule bound to a property. Order in
// the source is significant: it fixes the rule's registration index.
type RuleDef struct {
	Tag      string
	Kind     string // required, min_length, max_length, min, max
	Property string
	Bound    int64 // limit for the bounded kinds
	HasBound bool
	Severity string // optional, defaults to error
	Message  string // optional, overrides the generated text
}

// EntityDef is a compiled entity: ordered properties and ordered
// rules.
type EntityDef struct {
	Name       string
	Properties []PropertyDef
	Rules      []RuleDef
}

// ruleKinds maps a rule kind to whether it requires a bound.
var ruleKinds = map[string]bool{
	"required":   false,
	"min_length": true,
	"max_length": true,
	"min":        true,
	"max":        true,
}

// Compile parses a CUE value into an EntityDef.
// Uses the CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the entity struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: Person: { ... }`)
//	def, err := Compile(v.LookupPath(cue.ParsePath("entity.Person")))
func Compile(v cue.Value) (*EntityDef, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &EntityDef{}

	// Entity name comes from the struct label (the path selector).
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.Name = labels[len(labels)-1].String()
	}

	var err error
	def.Properties, err = parseProperties(v)
	if err != nil {
		return nil, err
	}
	if len(def.Properties) == 0 {
		return nil, &CompileError{
			Field:   "properties",
			Message: "at least one property is required",
			Pos:     v.Pos(),
		}
	}

	def.Rules, err = parseRules(v, def)
	if err != nil {
		return nil, err
	}

	return def, nil
}

// parseProperties extracts the property table in declaration order.
func parseProperties(v cue.Value) ([]PropertyDef, error) {
	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if !propsVal.Exists() {
		return nil, &CompileError{
			Field:   "properties",
			Message: "properties block is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := propsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []PropertyDef
	for iter.Next() {
		typeName, err := extractTypeName(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, PropertyDef{Name: iter.Label(), Type: typeName})
	}
	return out, nil
}

// parseRules extracts rule declarations in declaration order. The
// field label is the rule tag.
func parseRules(v cue.Value, def *EntityDef) ([]RuleDef, error) {
	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		return nil, nil // rules are optional
	}

	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []RuleDef
	for iter.Next() {
		tag := iter.Label()
		rv := iter.Value()

		rule := RuleDef{Tag: tag}

		kind, err := rv.LookupPath(cue.ParsePath("kind")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		needsBound, ok := ruleKinds[kind]
		if !ok {
			return nil, &CompileError{
				Field:   fmt.Sprintf("rules.%s.kind", tag),
				Message: fmt.Sprintf("unknown rule kind %q", kind),
				Pos:     rv.Pos(),
			}
		}
		rule.Kind = kind

		property, err := rv.LookupPath(cue.ParsePath("property")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if !def.hasProperty(property) {
			return nil, &CompileError{
				Field:   fmt.Sprintf("rules.%s.property", tag),
				Message: fmt.Sprintf("unknown property %q", property),
				Pos:     rv.Pos(),
			}
		}
		rule.Property = property

		boundVal := rv.LookupPath(cue.ParsePath("bound"))
		if boundVal.Exists() {
			bound, err := boundVal.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			rule.Bound = bound
			rule.HasBound = true
		}
		if needsBound && !rule.HasBound {
			return nil, &CompileError{
				Field:   fmt.Sprintf("rules.%s.bound", tag),
				Message: fmt.Sprintf("rule kind %q requires a bound", kind),
				Pos:     rv.Pos(),
			}
		}

		sevVal := rv.LookupPath(cue.ParsePath("severity"))
		if sevVal.Exists() {
			sev, err := sevVal.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			rule.Severity = sev
		}

		msgVal := rv.LookupPath(cue.ParsePath("message"))
		if msgVal.Exists() {
			msg, err := msgVal.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			rule.Message = msg
		}

		out = append(out, rule)
	}
	return out, nil
}

func (d *EntityDef) hasProperty(name string) bool {
	for _, p := range d.Properties {
		if p.Name == name {
			return true
		}
	}
	return false
}

// PropertyNames returns the property names in declaration order.
func (d *EntityDef) PropertyNames() []string {
	names := make([]string, len(d.Properties))
	for i, p := range d.Properties {
		names[i] = p.Name
	}
	return names
}

// extractTypeName converts a CUE type to a property type string.
// Floats are forbidden: property values are canonicalized and hashed,
// and float formatting is not portable across peers.
func extractTypeName(v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return "string", nil
	case cue.IntKind:
		return "int", nil
	case cue.BoolKind:
		return "bool", nil
	case cue.ListKind:
		return "array", nil
	case cue.StructKind:
		return "object", nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

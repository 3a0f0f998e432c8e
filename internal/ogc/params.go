package ogc

import (
	"errors"
	"image/color"
	"sort"
	"strconv"
	"strings"
)

// Coercer converts a raw query parameter value into a typed value.
type Coercer struct {
	// Name describes the expected type in validation errors.
	Name  string
	Parse func(raw string) (any, error)
}

var (
	String = Coercer{Name: "string", Parse: func(raw string) (any, error) {
		return raw, nil
	}}
	Int = Coercer{Name: "integer", Parse: func(raw string) (any, error) {
		return strconv.Atoi(strings.TrimSpace(raw))
	}}
	Float = Coercer{Name: "number", Parse: func(raw string) (any, error) {
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	}}
	Color = Coercer{Name: "color", Parse: func(raw string) (any, error) {
		return ParseColor(raw)
	}}
)

// ListOf parses a comma delimited list whose items are coerced with c. The
// result is []string, []int or []float64 for the scalar coercers and []any
// otherwise.
func ListOf(c Coercer) Coercer {
	return Coercer{Name: "list of " + c.Name, Parse: func(raw string) (any, error) {
		items := strings.Split(raw, ",")
		values := make([]any, 0, len(items))
		for _, item := range items {
			v, err := c.Parse(item)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return narrow(values), nil
	}}
}

// CRSOf parses a CRS identifier restricted to the given authorities.
func CRSOf(authorities ...string) Coercer {
	return Coercer{Name: "CRS identifier (" + strings.Join(authorities, ", ") + ")", Parse: func(raw string) (any, error) {
		return ParseCRS(strings.TrimSpace(raw), authorities)
	}}
}

func narrow(values []any) any {
	if len(values) == 0 {
		return values
	}
	switch values[0].(type) {
	case string:
		out := make([]string, len(values))
		for i, v := range values {
			out[i] = v.(string)
		}
		return out
	case int:
		out := make([]int, len(values))
		for i, v := range values {
			out[i] = v.(int)
		}
		return out
	case float64:
		out := make([]float64, len(values))
		for i, v := range values {
			out[i] = v.(float64)
		}
		return out
	}
	return values
}

// ParameterDefinition declares one operation parameter.
type ParameterDefinition struct {
	Required bool
	Type     Coercer
	// Default is substituted when an optional parameter is absent. A string
	// default is run through Type, any other value is used as is. A nil
	// Default leaves the parameter absent.
	Default         any
	AllowedValues   []string
	CaseInsensitive bool
}

func (d ParameterDefinition) allows(raw string) bool {
	for _, v := range d.AllowedValues {
		if d.CaseInsensitive {
			if strings.ToUpper(v) == strings.ToUpper(raw) {
				return true
			}
		} else if v == raw {
			return true
		}
	}
	return false
}

// Definitions maps parameter names (lower case) to their definitions.
type Definitions map[string]ParameterDefinition

// Operations maps operation names to their parameter contracts.
type Operations map[string]Definitions

// Validate checks raw against the contract of operation.
func (o Operations) Validate(operation string, raw map[string]string) (Params, error) {
	defs, ok := o[operation]
	if !ok {
		return nil, NewCodedError(CodeOperationNotSupported, "Operation %q not supported.", operation)
	}
	return defs.Validate(raw)
}

// Validate converts raw, whose keys are matched case-insensitively, into typed
// values. Parameters that are not declared are ignored.
func (defs Definitions) Validate(raw map[string]string) (Params, error) {
	lowered := LowerKeys(raw)

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Params, len(defs))
	for _, name := range names {
		def := defs[name]
		value, present := lowered[name]
		if !present {
			if def.Required {
				return nil, missingParameter(name)
			}
			if def.Default == nil {
				continue
			}
			if s, isString := def.Default.(string); isString && def.Type.Parse != nil {
				v, err := def.Type.Parse(s)
				if err != nil {
					return nil, unparseableParameter(name, s, def.Type.Name)
				}
				out[name] = v
			} else {
				out[name] = def.Default
			}
			continue
		}

		parse := def.Type.Parse
		if parse == nil {
			parse = String.Parse
		}
		v, err := parse(value)
		if err != nil {
			var pe *ProtocolError
			if errors.As(err, &pe) {
				return nil, &ValidationError{ProtocolError: *pe, Parameter: name}
			}
			return nil, unparseableParameter(name, value, def.Type.Name)
		}
		if len(def.AllowedValues) > 0 && !def.allows(value) {
			return nil, invalidParameter(name, value, def.AllowedValues)
		}
		out[name] = v
	}
	return out, nil
}

// LowerKeys lower cases the keys of raw. When two keys collide the one that
// sorts first wins so the result does not depend on map iteration order.
func LowerKeys(raw map[string]string) map[string]string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(raw))
	for _, k := range keys {
		lk := strings.ToLower(k)
		if _, seen := out[lk]; !seen {
			out[lk] = raw[k]
		}
	}
	return out
}

// Params holds validated parameter values.
type Params map[string]any

func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

func (p Params) String(name string) string {
	s, _ := p[name].(string)
	return s
}

func (p Params) Int(name string) (int, bool) {
	n, ok := p[name].(int)
	return n, ok
}

func (p Params) Float(name string) (float64, bool) {
	switch v := p[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func (p Params) Strings(name string) []string {
	s, _ := p[name].([]string)
	return s
}

func (p Params) Floats(name string) []float64 {
	f, _ := p[name].([]float64)
	return f
}

func (p Params) CRS(name string) (CRS, bool) {
	c, ok := p[name].(CRS)
	return c, ok
}

func (p Params) Color(name string) (color.NRGBA, bool) {
	c, ok := p[name].(color.NRGBA)
	return c, ok
}

// Clone returns a shallow copy so version specific shaping does not leak into
// the caller's map.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

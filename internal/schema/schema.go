package schema

import (
	"fmt"
	"strings"
)

// Type is a semantic value type. The set is closed: generated blocks may
// only declare fields using these types, and workflow bindings are checked
// against them at both bind time and run time.
type Type string

const (
	TypeText    Type = "text"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeList    Type = "list"
)

// ParseType validates a type name from generated output.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeText:
		return TypeText, nil
	case TypeNumber:
		return TypeNumber, nil
	case TypeBoolean:
		return TypeBoolean, nil
	case TypeObject:
		return TypeObject, nil
	case TypeList:
		return TypeList, nil
	default:
		return "", fmt.Errorf("unknown semantic type: %q", s)
	}
}

// Field describes one named parameter or result field.
type Field struct {
	Name        string `json:"name"`
	Type        Type   `json:"type"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// Schema is an ordered list of fields. Order is preserved so prompts and
// serialized blocks render deterministically.
type Schema struct {
	Fields []Field `json:"fields"`
}

// Get returns the field with the given name.
func (s Schema) Get(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns the field names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Validate checks schema well-formedness: non-empty unique field names,
// known types, and defaults that match their declared type. All problems
// are returned, not just the first, so repair prompts can carry the full
// list.
func (s Schema) Validate() []error {
	var errs []error
	seen := make(map[string]bool)
	for i, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			errs = append(errs, fmt.Errorf("field %d: empty name", i))
			continue
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Errorf("field %q: duplicate name", f.Name))
		}
		seen[f.Name] = true
		if _, err := ParseType(string(f.Type)); err != nil {
			errs = append(errs, fmt.Errorf("field %q: %w", f.Name, err))
		}
		if f.Default != nil && !MatchesType(f.Default, f.Type) {
			errs = append(errs, fmt.Errorf("field %q: default %v does not match type %s", f.Name, f.Default, f.Type))
		}
	}
	return errs
}

// MatchesType reports whether a runtime value conforms to a semantic type.
// Values come from JSON decoding, so numbers appear as float64 and objects
// as map[string]any. Native ints are accepted as numbers since capability
// clients produce them.
func MatchesType(value any, t Type) bool {
	if value == nil {
		return false
	}
	switch t {
	case TypeText:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	case TypeList:
		_, ok := value.([]any)
		return ok
	}
	return false
}

// Compatible reports whether a value of type src may be bound to an input
// of type dst. Types are nominal: there is no implicit coercion, so a
// number output never feeds a text input.
func Compatible(src, dst Type) bool {
	return src == dst
}

// ValueError describes one value that failed schema validation.
type ValueError struct {
	Field   string
	Message string
}

func (e ValueError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// BindValues validates a value map against the schema and returns the
// bound map: required fields must be present and type-correct, optional
// fields get their defaults, and unknown keys are rejected. On failure it
// returns every violation.
func (s Schema) BindValues(values map[string]any) (map[string]any, []ValueError) {
	var errs []ValueError
	bound := make(map[string]any, len(s.Fields))

	for _, f := range s.Fields {
		v, present := values[f.Name]
		if !present {
			if f.Default != nil {
				bound[f.Name] = f.Default
				continue
			}
			if f.Required {
				errs = append(errs, ValueError{Field: f.Name, Message: "required field missing"})
			}
			continue
		}
		if !MatchesType(v, f.Type) {
			errs = append(errs, ValueError{Field: f.Name, Message: fmt.Sprintf("expected %s, got %T", f.Type, v)})
			continue
		}
		bound[f.Name] = v
	}

	for name := range values {
		if _, ok := s.Get(name); !ok {
			errs = append(errs, ValueError{Field: name, Message: "field not declared in schema"})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return bound, nil
}

// CheckValues is BindValues without defaults: used for output contract
// validation, where every declared field must be produced explicitly.
func (s Schema) CheckValues(values map[string]any) []ValueError {
	var errs []ValueError
	for _, f := range s.Fields {
		v, present := values[f.Name]
		if !present {
			errs = append(errs, ValueError{Field: f.Name, Message: "declared output field not produced"})
			continue
		}
		if !MatchesType(v, f.Type) {
			errs = append(errs, ValueError{Field: f.Name, Message: fmt.Sprintf("expected %s, got %T", f.Type, v)})
		}
	}
	for name := range values {
		if _, ok := s.Get(name); !ok {
			errs = append(errs, ValueError{Field: name, Message: "field not declared in output schema"})
		}
	}
	return errs
}

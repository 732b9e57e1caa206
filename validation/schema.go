package validation

import (
	"sort"
)

// SchemaType is the primitive type a schema node accepts.
type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeArray   SchemaType = "array"
)

// StringFormat names a well-known string shape.
type StringFormat string

const (
	FormatDate     StringFormat = "date"
	FormatDateTime StringFormat = "date-time"
	FormatCurrency StringFormat = "currency"
)

// Schema declares the shape of a stage output. It serialises to a JSON
// Schema subset so it can be handed to the worker as an output contract.
//
// Schemas are built once at process start and must not be mutated after
// they are attached to a stage.
type Schema struct {
	Type        SchemaType `json:"type"`
	Description string     `json:"description,omitempty"`

	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`

	Items    *Schema `json:"items,omitempty"`
	MinItems *int    `json:"minItems,omitempty"`
	MaxItems *int    `json:"maxItems,omitempty"`

	Enum      []string     `json:"enum,omitempty"`
	Pattern   string       `json:"pattern,omitempty"`
	Format    StringFormat `json:"format,omitempty"`
	MinLength *int         `json:"minLength,omitempty"`

	Minimum          *float64 `json:"minimum,omitempty"`
	Maximum          *float64 `json:"maximum,omitempty"`
	ExclusiveMinimum *float64 `json:"exclusiveMinimum,omitempty"`

	Nullable bool `json:"nullable,omitempty"`
}

// Property is one named member of an object schema.
type Property struct {
	Name     string
	Schema   *Schema
	Optional bool
}

// Prop declares a required property.
func Prop(name string, s *Schema) Property {
	return Property{Name: name, Schema: s}
}

// OptionalProp declares a property that may be absent.
func OptionalProp(name string, s *Schema) Property {
	return Property{Name: name, Schema: s, Optional: true}
}

// Object builds an open object schema. Call Closed to reject unknown fields.
func Object(props ...Property) *Schema {
	s := &Schema{Type: TypeObject, Properties: make(map[string]*Schema, len(props))}
	for _, p := range props {
		s.Properties[p.Name] = p.Schema
		if !p.Optional {
			s.Required = append(s.Required, p.Name)
		}
	}
	return s
}

// String builds a string schema.
func String() *Schema { return &Schema{Type: TypeString} }

// Number builds a number schema.
func Number() *Schema { return &Schema{Type: TypeNumber} }

// Integer builds an integer schema.
func Integer() *Schema { return &Schema{Type: TypeInteger} }

// Boolean builds a boolean schema.
func Boolean() *Schema { return &Schema{Type: TypeBoolean} }

// Array builds an array schema with the given item schema.
func Array(items *Schema) *Schema { return &Schema{Type: TypeArray, Items: items} }

// Enum builds a string schema restricted to the given values.
func Enum(values ...string) *Schema {
	return &Schema{Type: TypeString, Enum: append([]string(nil), values...)}
}

// Closed rejects top-level fields not declared in Properties.
func (s *Schema) Closed() *Schema {
	closed := false
	s.AdditionalProperties = &closed
	return s
}

// AllowNull lets the field hold an explicit null.
func (s *Schema) AllowNull() *Schema {
	s.Nullable = true
	return s
}

// Describe attaches a human readable description.
func (s *Schema) Describe(desc string) *Schema {
	s.Description = desc
	return s
}

// Min sets an inclusive lower bound.
func (s *Schema) Min(v float64) *Schema {
	s.Minimum = &v
	return s
}

// Max sets an inclusive upper bound.
func (s *Schema) Max(v float64) *Schema {
	s.Maximum = &v
	return s
}

// Positive requires a value strictly greater than zero.
func (s *Schema) Positive() *Schema {
	zero := 0.0
	s.ExclusiveMinimum = &zero
	return s
}

// Count bounds the number of array items. A negative max means unbounded.
func (s *Schema) Count(min, max int) *Schema {
	s.MinItems = &min
	if max >= 0 {
		s.MaxItems = &max
	}
	return s
}

// NonEmpty requires a string of at least one character.
func (s *Schema) NonEmpty() *Schema {
	one := 1
	s.MinLength = &one
	return s
}

// Match requires a string to match the regular expression.
func (s *Schema) Match(pattern string) *Schema {
	s.Pattern = pattern
	return s
}

// WithFormat requires a string in the given well-known format.
func (s *Schema) WithFormat(f StringFormat) *Schema {
	s.Format = f
	return s
}

// IsClosed reports whether unknown fields are rejected.
func (s *Schema) IsClosed() bool {
	return s.AdditionalProperties != nil && !*s.AdditionalProperties
}

// PropertyNames returns the declared property names in stable order.
func (s *Schema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRequired reports whether name is a required property.
func (s *Schema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

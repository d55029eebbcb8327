// Package validate checks request bodies of selected routes against
// declarative JSON schemas. It tells schema violations (Invalid) apart from
// bodies that are not a JSON object at all (Malformed).
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

type Outcome int

const (
	OK Outcome = iota
	Invalid
	Malformed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Invalid:
		return "invalid"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome Outcome
	Reason  string
}

const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
)

// FieldRule constrains one top-level field. Zero values mean "no constraint",
// except Type which defaults to string.
type FieldRule struct {
	Name      string   `yaml:"name" toml:"name" json:"name"`
	Type      string   `yaml:"type" toml:"type" json:"type,omitempty"`
	Required  bool     `yaml:"required" toml:"required" json:"required,omitempty"`
	MinLength int      `yaml:"minLength" toml:"minLength" json:"minLength,omitempty"`
	MaxLength int      `yaml:"maxLength" toml:"maxLength" json:"maxLength,omitempty"`
	Pattern   string   `yaml:"pattern" toml:"pattern" json:"pattern,omitempty"`
	Minimum   *float64 `yaml:"minimum" toml:"minimum" json:"minimum,omitempty"`
	Maximum   *float64 `yaml:"maximum" toml:"maximum" json:"maximum,omitempty"`
}

type RouteSchema struct {
	Route   string      `yaml:"route" toml:"route" json:"route"`
	Methods []string    `yaml:"methods" toml:"methods" json:"methods,omitempty"`
	Fields  []FieldRule `yaml:"fields" toml:"fields" json:"fields"`
}

// LoginSchema is the default rule set for POST /login.
func LoginSchema() RouteSchema {
	return RouteSchema{
		Route:   "/login",
		Methods: []string{http.MethodPost},
		Fields: []FieldRule{
			{Name: "username", Type: TypeString, Required: true, MinLength: 3, MaxLength: 30, Pattern: `^[a-zA-Z0-9_]+$`},
			{Name: "password", Type: TypeString, Required: true, MinLength: 3, MaxLength: 50},
		},
	}
}

type field struct {
	FieldRule
	re *regexp.Regexp
}

// Schema is a compiled RouteSchema. Safe for concurrent use.
type Schema struct {
	route   string
	methods map[string]bool
	fields  []field
}

func (s *Schema) Route() string { return s.route }

func Compile(rs RouteSchema) (*Schema, error) {
	route := cleanPath(rs.Route)
	if strings.TrimSpace(rs.Route) == "" {
		return nil, errors.New("validate: route is required")
	}

	s := &Schema{route: route}
	if len(rs.Methods) > 0 {
		s.methods = make(map[string]bool, len(rs.Methods))
		for _, m := range rs.Methods {
			s.methods[strings.ToUpper(strings.TrimSpace(m))] = true
		}
	}

	seen := make(map[string]bool, len(rs.Fields))
	for _, fr := range rs.Fields {
		if fr.Name == "" {
			return nil, fmt.Errorf("validate: %s: field without name", route)
		}
		if seen[fr.Name] {
			return nil, fmt.Errorf("validate: %s: duplicate field %q", route, fr.Name)
		}
		seen[fr.Name] = true

		if fr.Type == "" {
			fr.Type = TypeString
		}
		switch fr.Type {
		case TypeString, TypeNumber, TypeInteger, TypeBoolean:
		default:
			return nil, fmt.Errorf("validate: %s.%s: unknown type %q", route, fr.Name, fr.Type)
		}
		if fr.MinLength < 0 || fr.MaxLength < 0 || (fr.MaxLength > 0 && fr.MinLength > fr.MaxLength) {
			return nil, fmt.Errorf("validate: %s.%s: bad length bounds", route, fr.Name)
		}

		f := field{FieldRule: fr}
		if fr.Pattern != "" {
			re, err := regexp.Compile(fr.Pattern)
			if err != nil {
				return nil, fmt.Errorf("validate: %s.%s: %w", route, fr.Name, err)
			}
			f.re = re
		}
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// Validate decodes body as a JSON object and checks every declared field.
// Fields not declared in the schema are ignored.
func (s *Schema) Validate(body []byte) Result {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return Result{Outcome: Malformed, Reason: "body is not a JSON object"}
	}
	if _, err := dec.Token(); err != io.EOF {
		return Result{Outcome: Malformed, Reason: "trailing data after JSON object"}
	}

	for _, f := range s.fields {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			if f.Required {
				return invalid(f.Name, "is required")
			}
			continue
		}
		if reason := f.check(v); reason != "" {
			return invalid(f.Name, reason)
		}
	}
	return Result{Outcome: OK}
}

func invalid(name, reason string) Result {
	return Result{Outcome: Invalid, Reason: name + " " + reason}
}

func (f field) check(v any) string {
	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return "must be a string"
		}
		n := utf8.RuneCountInString(s)
		if n < f.MinLength {
			return fmt.Sprintf("must be at least %d characters", f.MinLength)
		}
		if f.MaxLength > 0 && n > f.MaxLength {
			return fmt.Sprintf("must be at most %d characters", f.MaxLength)
		}
		if f.re != nil && !f.re.MatchString(s) {
			return "does not match pattern"
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return "must be a boolean"
		}
	case TypeNumber, TypeInteger:
		num, ok := v.(json.Number)
		if !ok {
			return "must be a " + f.Type
		}
		x, err := num.Float64()
		if err != nil {
			return "must be a " + f.Type
		}
		if f.Type == TypeInteger && x != math.Trunc(x) {
			return "must be an integer"
		}
		if f.Minimum != nil && x < *f.Minimum {
			return fmt.Sprintf("must be >= %v", *f.Minimum)
		}
		if f.Maximum != nil && x > *f.Maximum {
			return fmt.Sprintf("must be <= %v", *f.Maximum)
		}
	}
	return ""
}

// Registry maps (method, path) to schemas. Paths are matched exactly after
// cleaning, so /login/ and /login are the same route.
type Registry struct {
	byRoute map[string][]*Schema
}

func NewRegistry(schemas []RouteSchema) (*Registry, error) {
	r := &Registry{byRoute: make(map[string][]*Schema, len(schemas))}
	for _, rs := range schemas {
		s, err := Compile(rs)
		if err != nil {
			return nil, err
		}
		r.byRoute[s.route] = append(r.byRoute[s.route], s)
	}
	return r, nil
}

// Lookup returns the schema that applies to the request, if any.
func (r *Registry) Lookup(method, p string) (*Schema, bool) {
	if r == nil {
		return nil, false
	}
	for _, s := range r.byRoute[cleanPath(p)] {
		if s.methods == nil || s.methods[strings.ToUpper(method)] {
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, ss := range r.byRoute {
		n += len(ss)
	}
	return n
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

package schema

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Variable types supported by the form.
const (
	TypeFloat   = "float"
	TypeInteger = "integer"
	TypeSelect  = "select"
	TypeText    = "text"
)

// TimestampColumn is the first persisted column of every run record.
const TimestampColumn = "Timestamp"

// Schema describes the form: named groups of typed variables.
type Schema struct {
	Groups []Group `yaml:"groups"`
}

// Group is a set of related variables, typically one piece of equipment.
type Group struct {
	Name      string     `yaml:"name"`
	AlwaysOn  bool       `yaml:"always_on"`
	Variables []Variable `yaml:"variables"`
}

// Variable is one form field.
type Variable struct {
	Name          string   `yaml:"name"`
	Type          string   `yaml:"type"`
	Required      bool     `yaml:"required"`
	Default       string   `yaml:"default"`
	Options       []string `yaml:"options"`
	AutoIncrement bool     `yaml:"auto_increment"`
}

// Load reads and validates a schema file.
func Load(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates schema YAML.
func Parse(input []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(input, &s); err != nil {
		return Schema{}, fmt.Errorf("decode schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// Validate checks structural rules: unique non-empty names, known types,
// select options present, defaults parseable, at most one auto-increment.
func (s Schema) Validate() error {
	if len(s.Groups) == 0 {
		return errors.New("schema.groups must be non-empty")
	}

	seenGroups := make(map[string]struct{}, len(s.Groups))
	autoCount := 0

	for gi, g := range s.Groups {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			return fmt.Errorf("groups[%d].name is empty", gi)
		}
		if _, dup := seenGroups[name]; dup {
			return fmt.Errorf("duplicate group name %q", name)
		}
		seenGroups[name] = struct{}{}

		if len(g.Variables) == 0 {
			return fmt.Errorf("group %q has no variables", name)
		}

		seenVars := make(map[string]struct{}, len(g.Variables))
		for vi, v := range g.Variables {
			vname := strings.TrimSpace(v.Name)
			if vname == "" {
				return fmt.Errorf("group %q variables[%d].name is empty", name, vi)
			}
			if _, dup := seenVars[vname]; dup {
				return fmt.Errorf("group %q has duplicate variable %q", name, vname)
			}
			seenVars[vname] = struct{}{}

			if err := validateVariable(name, v); err != nil {
				return err
			}
			if v.AutoIncrement {
				autoCount++
			}
		}
	}

	if autoCount > 1 {
		return errors.New("schema declares more than one auto_increment variable")
	}
	return nil
}

func validateVariable(group string, v Variable) error {
	switch v.Type {
	case TypeFloat:
		if v.Default != "" {
			if _, err := strconv.ParseFloat(v.Default, 64); err != nil {
				return fmt.Errorf("group %q variable %q: default %q is not a float", group, v.Name, v.Default)
			}
		}
	case TypeInteger:
		if v.Default != "" {
			if _, err := strconv.ParseInt(v.Default, 10, 64); err != nil {
				return fmt.Errorf("group %q variable %q: default %q is not an integer", group, v.Name, v.Default)
			}
		}
	case TypeSelect:
		if len(v.Options) == 0 {
			return fmt.Errorf("group %q variable %q: select requires options", group, v.Name)
		}
		if v.Default != "" && !containsOption(v.Options, v.Default) {
			return fmt.Errorf("group %q variable %q: default %q is not an option", group, v.Name, v.Default)
		}
	case TypeText, "":
		// Untyped variables are text.
	default:
		return fmt.Errorf("group %q variable %q: unknown type %q", group, v.Name, v.Type)
	}

	if v.AutoIncrement && v.Type != TypeInteger {
		return fmt.Errorf("group %q variable %q: auto_increment requires type integer", group, v.Name)
	}
	return nil
}

func containsOption(options []string, val string) bool {
	for _, o := range options {
		if o == val {
			return true
		}
	}
	return false
}

// EffectiveType returns the variable type, defaulting empty to text.
func (v Variable) EffectiveType() string {
	if v.Type == "" {
		return TypeText
	}
	return v.Type
}

// ColumnName returns the persisted column for a group/variable pair.
func ColumnName(group, variable string) string {
	return group + " - " + variable
}

// Columns returns the persisted column set in schema order,
// starting with the timestamp column.
func (s Schema) Columns() []string {
	cols := make([]string, 0, 1+s.variableCount())
	cols = append(cols, TimestampColumn)
	for _, g := range s.Groups {
		for _, v := range g.Variables {
			cols = append(cols, ColumnName(g.Name, v.Name))
		}
	}
	return cols
}

// AutoIncrementColumn returns the persisted column of the auto-increment
// variable, or "" if the schema has none.
func (s Schema) AutoIncrementColumn() string {
	for _, g := range s.Groups {
		for _, v := range g.Variables {
			if v.AutoIncrement {
				return ColumnName(g.Name, v.Name)
			}
		}
	}
	return ""
}

// Group returns the named group.
func (s Schema) Group(name string) (Group, bool) {
	for _, g := range s.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

func (s Schema) variableCount() int {
	n := 0
	for _, g := range s.Groups {
		n += len(g.Variables)
	}
	return n
}

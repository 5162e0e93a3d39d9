package vm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/hashicorp/go-set/v3"
)

// DefaultReservedWords are the runtime's pseudo-variables. They can never
// name a type or a field.
var DefaultReservedWords = []string{"self", "super", "true", "false", "nil", "thisContext"}

// Pseudo-fields toggling the dict and weak-reference slots.
const (
	DictField    = "__dict__"
	WeakrefField = "__weakref__"
)

// Names with meaning on a record type's namespace.
const (
	FieldsAttr   = "__fields__"
	DefaultsAttr = "__defaults__"
	IterMethod   = "__iter__"
	ReprMethod   = "__repr__"
)

// IsIdentifier reports whether s is a legal identifier: a letter or
// underscore followed by letters, digits or underscores.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}

// isDunder reports names of the form __x__, which bypass identifier checks.
func isDunder(s string) bool {
	return len(s) > 4 && strings.HasPrefix(s, "__") && strings.HasSuffix(s, "__")
}

// nameChecker validates type and field names against the runtime's reserved
// words and a declaration's extra disallowed names.
type nameChecker struct {
	reserved *set.Set[string]
	invalid  *set.Set[string]
	rename   bool
}

func newNameChecker(reserved *set.Set[string], invalid []string, rename bool) *nameChecker {
	return &nameChecker{
		reserved: reserved,
		invalid:  set.From(invalid),
		rename:   rename,
	}
}

// checkType validates a type name. Rename never applies to type names.
func (c *nameChecker) checkType(name string) error {
	switch {
	case !IsIdentifier(name):
		return fmt.Errorf("%w: type name must be a valid identifier: %q", ErrNaming, name)
	case c.reserved.Contains(name):
		return fmt.Errorf("%w: type name cannot be a reserved word: %q", ErrNaming, name)
	}
	return nil
}

// checkField validates the field name at position i, returning the name to
// use. In rename mode an invalid name becomes the placeholder _<i+1>.
func (c *nameChecker) checkField(name string, i int) (string, error) {
	if isDunder(name) {
		return name, nil
	}
	var problem string
	switch {
	case c.invalid.Contains(name):
		problem = "name is not allowed"
	case !IsIdentifier(name):
		problem = "name must be a valid identifier"
	case c.reserved.Contains(name):
		problem = "name cannot be a reserved word"
	}
	if problem == "" {
		return name, nil
	}
	if c.rename {
		return "_" + strconv.Itoa(i+1), nil
	}
	return "", fmt.Errorf("%w: %s: %q", ErrNaming, problem, name)
}

// SplitFieldNames splits a field list written as "x y" or "x, y".
func SplitFieldNames(s string) []string {
	return strings.Fields(strings.ReplaceAll(s, ",", " "))
}

// ParseFieldSpec parses "name" or "name:type". Defaults are declared
// separately.
func ParseFieldSpec(s string) FieldSpec {
	name, tag, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return FieldSpec{Name: name}
	}
	return FieldSpec{Name: strings.TrimSpace(name), Type: strings.TrimSpace(tag)}
}

// Fields builds field specs from names, accepting the "name:type" form.
func Fields(names ...string) []FieldSpec {
	specs := make([]FieldSpec, len(names))
	for i, n := range names {
		specs[i] = ParseFieldSpec(n)
	}
	return specs
}

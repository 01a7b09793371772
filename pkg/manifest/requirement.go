package manifest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver"
)

// Operator is a version comparison in a requirement string. An empty operator leaves the
// dependency unpinned.
type Operator string

const (
	OpNone       Operator = ""
	OpEqual      Operator = "=="
	OpNotEqual   Operator = "!="
	OpGreaterEq  Operator = ">="
	OpLessEq     Operator = "<="
	OpGreater    Operator = ">"
	OpLess       Operator = "<"
	OpCompatible Operator = "~="
)

// constraintOperators maps requirement operators onto semver constraint syntax. The
// compatible-release operator behaves like a tilde range: ~= 1.4.2 allows >= 1.4.2, < 1.5.0.
var constraintOperators = map[Operator]string{
	OpEqual:      "=",
	OpNotEqual:   "!=",
	OpGreaterEq:  ">=",
	OpLessEq:     "<=",
	OpGreater:    ">",
	OpLess:       "<",
	OpCompatible: "~",
}

var (
	// Two-character operators are listed first so >= never matches as >.
	requirementPattern = regexp.MustCompile(
		`^\s*([A-Za-z0-9][A-Za-z0-9._-]*)\s*(?:(==|!=|>=|<=|~=|>|<)\s*(\S+))?\s*$`)
	namePattern      = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	separatorPattern = regexp.MustCompile(`[-_.]+`)
)

// Requirement is a single install dependency, such as "google-cloud-storage == 1.22.0".
type Requirement struct {
	Name     string
	Operator Operator
	Version  string
}

// ParseRequirement parses a name optionally followed by an operator and version.
func ParseRequirement(s string) (Requirement, error) {
	matches := requirementPattern.FindStringSubmatch(s)
	if matches == nil {
		return Requirement{}, fmt.Errorf("invalid requirement %q", s)
	}

	return Requirement{Name: matches[1], Operator: Operator(matches[2]), Version: matches[3]}, nil
}

// MustParseRequirement is ParseRequirement for static values, panicking on error.
func MustParseRequirement(s string) Requirement {
	req, err := ParseRequirement(s)
	if err != nil {
		panic(err.Error())
	}

	return req
}

func (r Requirement) String() string {
	if r.Operator == OpNone {
		return r.Name
	}

	return fmt.Sprintf("%s %s %s", r.Name, r.Operator, r.Version)
}

// Pinned is true when the requirement fixes an exact version.
func (r Requirement) Pinned() bool {
	return r.Operator == OpEqual
}

// CanonicalName normalises the distribution name so that google_cloud.storage and
// Google-Cloud-Storage compare equal.
func (r Requirement) CanonicalName() string {
	return CanonicalName(r.Name)
}

// CanonicalName lower-cases a distribution name and collapses separator runs to "-".
func CanonicalName(name string) string {
	return separatorPattern.ReplaceAllString(strings.ToLower(name), "-")
}

// Validate checks the requirement is well-formed. Versions must parse for any operator,
// not only pinned ones, or Satisfies could never evaluate them.
func (r Requirement) Validate() error {
	if !namePattern.MatchString(r.Name) {
		return fmt.Errorf("requirement has invalid name %q", r.Name)
	}

	if r.Operator == OpNone {
		if r.Version != "" {
			return fmt.Errorf("requirement %s has version %q but no operator", r.Name, r.Version)
		}

		return nil
	}

	if _, ok := constraintOperators[r.Operator]; !ok {
		return fmt.Errorf("requirement %s has unsupported operator %q", r.Name, r.Operator)
	}

	if _, err := semver.NewVersion(r.Version); err != nil {
		return fmt.Errorf("requirement %s has invalid version %q: %v", r.Name, r.Version, err)
	}

	return nil
}

// Satisfies reports whether version meets the requirement. Unpinned requirements accept
// any version, while unparseable versions satisfy nothing else.
func (r Requirement) Satisfies(version string) bool {
	if r.Operator == OpNone {
		return true
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}

	op, ok := constraintOperators[r.Operator]
	if !ok {
		return false
	}

	constraint, err := semver.NewConstraint(fmt.Sprintf("%s %s", op, r.Version))
	if err != nil {
		return false
	}

	return constraint.Check(v)
}

// UnmarshalYAML reads a requirement from its string form, as it appears in
// install_requires.
func (r *Requirement) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}

	req, err := ParseRequirement(raw)
	if err != nil {
		return err
	}

	*r = req
	return nil
}

func (r Requirement) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

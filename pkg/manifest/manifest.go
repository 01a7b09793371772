// Package manifest describes the shim's own distribution: its name, version, the
// packages it ships and the pinned runtime dependencies it needs. The same structure can
// be read from YAML, validated, and rendered back out as a setuptools descriptor.
package manifest

import (
	"fmt"
	"io"
	"os"

	"github.com/gfxtelemetry/bigquery-shim/pkg/util"

	"github.com/Masterminds/semver"
	"github.com/Masterminds/sprig"
	"github.com/alecthomas/template"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type Manifest struct {
	Name     string        `yaml:"name"`
	Version  string        `yaml:"version"`
	Packages []string      `yaml:"packages"`
	Requires []Requirement `yaml:"install_requires"`
}

// Default is the manifest of this distribution. Callers receive a fresh copy each time,
// so they may modify it freely.
func Default() *Manifest {
	return &Manifest{
		Name:     "bigquery_shim",
		Version:  "0.4.0",
		Packages: []string{"bigquery_shim"},
		Requires: []Requirement{
			MustParseRequirement("google-cloud-bigquery == 1.16.0"),
			MustParseRequirement("google-cloud-storage == 1.22.0"),
			MustParseRequirement("regex"),
		},
	}
}

// Load reads a YAML manifest from path.
func Load(path string) (*Manifest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open manifest")
	}
	defer file.Close()

	return Parse(file)
}

// Parse decodes a YAML manifest. It does not validate, so that invalid manifests can
// still be inspected.
func Parse(r io.Reader) (*Manifest, error) {
	var m Manifest
	decoder := yaml.NewDecoder(r)
	decoder.SetStrict(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, errors.Wrap(err, "failed to parse manifest")
	}

	return &m, nil
}

// SemanticVersion parses the manifest version. Only strict X.Y.Z[-pre][+meta] versions
// are accepted: semver will happily coerce "1.2" or "v1.2.3", neither of which is a
// valid distribution version.
func (m *Manifest) SemanticVersion() (*semver.Version, error) {
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil, err
	}

	if v.String() != m.Version {
		return nil, fmt.Errorf("version %q is not in canonical form %q", m.Version, v.String())
	}

	return v, nil
}

// Validate returns every problem with the manifest in one error, or nil.
func (m *Manifest) Validate() error {
	var errs []error

	if m.Name == "" {
		errs = append(errs, fmt.Errorf("manifest has no name"))
	}

	if _, err := m.SemanticVersion(); err != nil {
		errs = append(errs, errors.Wrap(err, "invalid version"))
	}

	if len(m.Packages) == 0 {
		errs = append(errs, fmt.Errorf("manifest declares no packages"))
	} else if m.Name != "" && !util.Includes(m.Packages, m.Name) {
		errs = append(errs, fmt.Errorf("packages %v do not include %s", m.Packages, m.Name))
	}

	for _, pkg := range util.Duplicates(m.Packages, nil) {
		errs = append(errs, fmt.Errorf("package %s is declared more than once", pkg))
	}

	names := make([]string, 0, len(m.Requires))
	for _, req := range m.Requires {
		if err := req.Validate(); err != nil {
			errs = append(errs, err)
		}

		names = append(names, req.Name)
	}

	for _, name := range util.Duplicates(names, CanonicalName) {
		errs = append(errs, fmt.Errorf("requirement %s is declared more than once", name))
	}

	return util.JoinErrors(errs)
}

// Requirement finds a dependency by name, comparing canonical names.
func (m *Manifest) Requirement(name string) (Requirement, bool) {
	for _, req := range m.Requires {
		if req.CanonicalName() == CanonicalName(name) {
			return req, true
		}
	}

	return Requirement{}, false
}

// Satisfies reports whether an installed dependency at version meets the manifest.
// Dependencies the manifest doesn't mention are never satisfied.
func (m *Manifest) Satisfies(name, version string) bool {
	req, ok := m.Requirement(name)
	if !ok {
		return false
	}

	return req.Satisfies(version)
}

// Render writes the manifest as a setuptools setup.py.
func (m *Manifest) Render(w io.Writer) error {
	return setupTemplate.Execute(w, m)
}

// setupTemplate reproduces the published setup.py byte for byte, unused import included.
var setupTemplate = template.Must(template.New("setup.py").
	Funcs(template.FuncMap(sprig.GenericFuncMap())).
	Parse(`#!/usr/bin/env python

from setuptools import setup, find_packages

setup(
    name={{ quote .Name }},
    version={{ quote .Version }},
    packages=[{{ range $index, $pkg := .Packages }}{{ if $index }}, {{ end }}{{ quote $pkg }}{{ end }}],
    install_requires=[
{{ range .Requires }}        {{ quote .String }},
{{ end }}    ],
)
`))

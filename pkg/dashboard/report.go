// Package dashboard turns BigQuery results into the JSON data files consumed by the
// telemetry dashboard. Each Report becomes one file, data/<key>, holding an object with
// one entry per Section.
package dashboard

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/gfxtelemetry/bigquery-shim/pkg/util"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type Kind string

const (
	// KindHistogram reads key and count columns into {key: count}
	KindHistogram Kind = "histogram"
	// KindScalar reads a single value from a single row
	KindScalar Kind = "scalar"
	// KindSeries reads label and data columns into [{label, data}], largest first
	KindSeries Kind = "series"
	// KindPairs reads a key column and a repeated (key, count) record into
	// [[key, {key: count}]]
	KindPairs Kind = "pairs"
)

var (
	reportKeyPattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*\.json$`)
	sectionNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

type Report struct {
	Key      string    `yaml:"key"`
	Sections []Section `yaml:"sections"`
}

// Section is one entry of a report. Names are used verbatim as JSON keys, so they keep
// whatever case the dashboard expects (totalPings, tdrReasons).
type Section struct {
	Name    string                 `yaml:"name"`
	Kind    Kind                   `yaml:"kind"`
	Query   string                 `yaml:"query"`
	Params  map[string]interface{} `yaml:"params"`
	Vars    map[string]interface{} `yaml:"vars"`
	Combine *Combine               `yaml:"combine"`
}

// Config is the file format of a set of reports. Vars are shared by every section, and
// section vars take precedence.
type Config struct {
	Vars    map[string]interface{} `yaml:"vars"`
	Reports []Report               `yaml:"reports"`
}

// LoadReports reads and validates a report configuration file.
func LoadReports(path string) ([]Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open reports")
	}
	defer file.Close()

	return ParseReports(file)
}

// ParseReports decodes YAML reports, merging shared vars into each section.
func ParseReports(r io.Reader) ([]Report, error) {
	var cfg Config
	decoder := yaml.NewDecoder(r)
	decoder.SetStrict(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse reports")
	}

	for idx := range cfg.Reports {
		for sidx := range cfg.Reports[idx].Sections {
			section := &cfg.Reports[idx].Sections[sidx]
			section.Vars = mergeVars(cfg.Vars, section.Vars)
		}
	}

	if err := ValidateReports(cfg.Reports); err != nil {
		return nil, err
	}

	return cfg.Reports, nil
}

// ValidateReports checks every report, returning all problems at once.
func ValidateReports(reports []Report) error {
	var errs []error

	if len(reports) == 0 {
		errs = append(errs, fmt.Errorf("no reports configured"))
	}

	keys := []string{}
	for _, report := range reports {
		keys = append(keys, report.Key)
		errs = append(errs, report.validate()...)
	}

	for _, key := range util.Duplicates(keys, nil) {
		errs = append(errs, fmt.Errorf("report %s is declared more than once", key))
	}

	return util.JoinErrors(errs)
}

func (r Report) validate() []error {
	var errs []error

	if !reportKeyPattern.MatchString(r.Key) {
		errs = append(errs, fmt.Errorf("report key %q must be a lower-case .json file name", r.Key))
	}

	if len(r.Sections) == 0 {
		errs = append(errs, fmt.Errorf("report %s has no sections", r.Key))
	}

	names := []string{}
	for _, section := range r.Sections {
		names = append(names, section.Name)
		if err := section.validate(); err != nil {
			errs = append(errs, errors.Wrapf(err, "report %s", r.Key))
		}
	}

	for _, name := range util.Duplicates(names, nil) {
		errs = append(errs, fmt.Errorf("report %s: section %s is declared more than once", r.Key, name))
	}

	return errs
}

func (s Section) validate() error {
	if !sectionNamePattern.MatchString(s.Name) {
		return fmt.Errorf("section name %q is not a valid identifier", s.Name)
	}

	if s.Name == publishedAtKey {
		return fmt.Errorf("section name %s is reserved", s.Name)
	}

	switch s.Kind {
	case KindHistogram, KindScalar, KindSeries, KindPairs:
	default:
		return fmt.Errorf("section %s has unknown kind %q", s.Name, s.Kind)
	}

	if s.Query == "" {
		return fmt.Errorf("section %s has no query", s.Name)
	}

	if s.Combine != nil {
		if s.Kind != KindHistogram {
			return fmt.Errorf("section %s: combine only applies to histograms", s.Name)
		}

		if err := s.Combine.validate(); err != nil {
			return errors.Wrapf(err, "section %s", s.Name)
		}
	}

	return nil
}

func mergeVars(base, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(override))
	for key, value := range base {
		merged[key] = value
	}

	for key, value := range override {
		merged[key] = value
	}

	return merged
}

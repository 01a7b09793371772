package dashboard

import (
	"fmt"

	"github.com/gfxtelemetry/bigquery-shim/pkg/util"
)

// Combine folds minor histogram entries into a single bucket. An entry survives only if
// it is listed in Keep (any entry, when Keep is empty) and holds at least Threshold of
// the total. The rest are summed into the Into bucket, which always survives.
type Combine struct {
	Into      string   `yaml:"into"`
	Threshold float64  `yaml:"threshold"`
	Keep      []string `yaml:"keep"`
}

func (c Combine) validate() error {
	if c.Into == "" {
		return fmt.Errorf("combine has no target bucket")
	}

	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("combine threshold %v is outside [0, 1]", c.Threshold)
	}

	return nil
}

// Apply returns a new histogram with minor entries folded together. The input is left
// untouched.
func (c Combine) Apply(histogram map[string]int64) map[string]int64 {
	var total int64
	for _, count := range histogram {
		total += count
	}

	result := make(map[string]int64, len(histogram))
	if total == 0 {
		for key, count := range histogram {
			result[key] = count
		}

		return result
	}

	for key, count := range histogram {
		if key == c.Into || c.keep(key, count, total) {
			result[key] += count
			continue
		}

		result[c.Into] += count
	}

	return result
}

func (c Combine) keep(key string, count, total int64) bool {
	if len(c.Keep) > 0 && !util.Includes(c.Keep, key) {
		return false
	}

	return float64(count)/float64(total) >= c.Threshold
}

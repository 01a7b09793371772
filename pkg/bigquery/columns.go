package bigquery

import (
	"fmt"
	"regexp"
	"strings"

	bq "cloud.google.com/go/bigquery"
)

var (
	// An upper-case letter that follows a lower-case letter or digit starts a new word, as
	// does the last capital of an acronym when followed by lower-case (HTTPStatus).
	lowerUpperPattern   = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	acronymUpperPattern = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	separatorPattern    = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

// NormaliseColumn converts a column name to snake_case: totalPings becomes total_pings,
// HTTPStatus becomes http_status and "Device ID" becomes device_id.
func NormaliseColumn(name string) string {
	name = separatorPattern.ReplaceAllString(name, "_")
	name = acronymUpperPattern.ReplaceAllString(name, "${1}_${2}")
	name = lowerUpperPattern.ReplaceAllString(name, "${1}_${2}")

	return strings.ToLower(strings.Trim(name, "_"))
}

// NormaliseRow rewrites every key of row with NormaliseColumn. Nested records are
// normalised too. Two columns that collapse onto the same name are an error, as one
// would silently overwrite the other.
func NormaliseRow(row map[string]bq.Value) (Row, error) {
	result := make(Row, len(row))
	origins := make(map[string]string, len(row))
	for column, value := range row {
		key := NormaliseColumn(column)
		if key == "" {
			return nil, fmt.Errorf("column %q has no usable characters", column)
		}

		if existing, ok := origins[key]; ok {
			return nil, fmt.Errorf("columns %q and %q both normalise to %q", existing, column, key)
		}

		normalised, err := normaliseValue(value)
		if err != nil {
			return nil, err
		}

		origins[key] = column
		result[key] = normalised
	}

	return result, nil
}

func normaliseValue(value bq.Value) (bq.Value, error) {
	switch v := value.(type) {
	case map[string]bq.Value:
		row, err := NormaliseRow(v)
		if err != nil {
			return nil, err
		}

		return map[string]bq.Value(row), nil
	case []bq.Value:
		values := make([]bq.Value, len(v))
		for idx, elem := range v {
			normalised, err := normaliseValue(elem)
			if err != nil {
				return nil, err
			}

			values[idx] = normalised
		}

		return values, nil
	}

	return value, nil
}

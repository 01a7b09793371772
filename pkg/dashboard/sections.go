package dashboard

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/gfxtelemetry/bigquery-shim/pkg/bigquery"

	bq "cloud.google.com/go/bigquery"
)

// nullKey stands in for NULL group keys, which JSON objects cannot represent.
const nullKey = "null"

// SeriesPoint is a single slice of a pie chart.
type SeriesPoint struct {
	Label string  `json:"label"`
	Data  float64 `json:"data"`
}

// Build converts query rows into the section's JSON value.
func (s Section) Build(rows []bigquery.Row) (interface{}, error) {
	switch s.Kind {
	case KindHistogram:
		histogram, err := buildHistogram(rows)
		if err != nil {
			return nil, err
		}

		if s.Combine != nil {
			histogram = s.Combine.Apply(histogram)
		}

		return histogram, nil
	case KindScalar:
		return buildScalar(rows)
	case KindSeries:
		return buildSeries(rows)
	case KindPairs:
		return buildPairs(rows)
	}

	return nil, fmt.Errorf("unknown section kind %q", s.Kind)
}

// buildHistogram sums count by key, so repeated keys accumulate.
func buildHistogram(rows []bigquery.Row) (map[string]int64, error) {
	histogram := map[string]int64{}
	for idx, row := range rows {
		key, err := stringColumn(row, "key")
		if err != nil {
			return nil, fmt.Errorf("row %d: %v", idx, err)
		}

		count, err := integerColumn(row, "count")
		if err != nil {
			return nil, fmt.Errorf("row %d: %v", idx, err)
		}

		histogram[key] += count
	}

	return histogram, nil
}

// buildScalar expects exactly one row. The value column is used when present, otherwise
// the row must have a single column.
func buildScalar(rows []bigquery.Row) (interface{}, error) {
	if len(rows) != 1 {
		return nil, fmt.Errorf("scalar expects one row, got %d", len(rows))
	}

	row := rows[0]
	if value, ok := row["value"]; ok {
		return value, nil
	}

	if len(row) != 1 {
		return nil, fmt.Errorf("scalar expects a value column or a single column, got %d columns", len(row))
	}

	var value interface{}
	for _, value = range row {
	}

	return value, nil
}

// buildSeries produces pie chart data, ordered largest slice first and by label on ties
// so output is stable.
func buildSeries(rows []bigquery.Row) ([]SeriesPoint, error) {
	series := make([]SeriesPoint, 0, len(rows))
	for idx, row := range rows {
		label, err := stringColumn(row, "label")
		if err != nil {
			return nil, fmt.Errorf("row %d: %v", idx, err)
		}

		data, err := numberColumn(row, "data")
		if err != nil {
			return nil, fmt.Errorf("row %d: %v", idx, err)
		}

		series = append(series, SeriesPoint{Label: label, Data: data})
	}

	sort.SliceStable(series, func(i, j int) bool {
		if series[i].Data != series[j].Data {
			return series[i].Data > series[j].Data
		}

		return series[i].Label < series[j].Label
	})

	return series, nil
}

// buildPairs reads a key column alongside a repeated record of (key, count) entries,
// producing [[key, {key: count}], ...] in query order.
func buildPairs(rows []bigquery.Row) ([][2]interface{}, error) {
	pairs := make([][2]interface{}, 0, len(rows))
	for idx, row := range rows {
		key, ok := row["key"]
		if !ok {
			return nil, fmt.Errorf("row %d: missing column key", idx)
		}

		raw, ok := row["value"]
		if !ok {
			return nil, fmt.Errorf("row %d: missing column value", idx)
		}

		entries, ok := raw.([]bq.Value)
		if !ok && raw != nil {
			return nil, fmt.Errorf("row %d: column value must be a repeated record, not %T", idx, raw)
		}

		histogram := map[string]int64{}
		for _, entry := range entries {
			record, ok := entry.(map[string]bq.Value)
			if !ok {
				return nil, fmt.Errorf("row %d: value entries must be records, not %T", idx, entry)
			}

			histogramRows, err := buildHistogram([]bigquery.Row{bigquery.Row(record)})
			if err != nil {
				return nil, fmt.Errorf("row %d: %v", idx, err)
			}

			for k, count := range histogramRows {
				histogram[k] += count
			}
		}

		pairs = append(pairs, [2]interface{}{key, histogram})
	}

	return pairs, nil
}

func stringColumn(row bigquery.Row, column string) (string, error) {
	value, ok := row[column]
	if !ok {
		return "", fmt.Errorf("missing column %s", column)
	}

	switch v := value.(type) {
	case nil:
		return nullKey, nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	}

	return fmt.Sprint(value), nil
}

func integerColumn(row bigquery.Row, column string) (int64, error) {
	if value, ok := row[column].(int64); ok {
		return value, nil
	}

	value, err := numberColumn(row, column)
	if err != nil {
		return 0, err
	}

	if value != math.Trunc(value) {
		return 0, fmt.Errorf("column %s is not an integer: %v", column, value)
	}

	return int64(value), nil
}

// numberColumn reads a numeric column. NULL counts as zero, which is what COUNTIF and SUM
// over no rows produce.
func numberColumn(row bigquery.Row, column string) (float64, error) {
	value, ok := row[column]
	if !ok {
		return 0, fmt.Errorf("missing column %s", column)
	}

	switch v := value.(type) {
	case nil:
		return 0, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case float64:
		return v, nil
	}

	return 0, fmt.Errorf("column %s is not numeric: %T", column, value)
}

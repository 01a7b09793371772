package util

import "strings"

// Includes reports whether s is present in ss.
func Includes(ss []string, s string) bool {
	for _, existing := range ss {
		if existing == s {
			return true
		}
	}

	return false
}

// Duplicates returns every element of ss that appears more than once after applying key,
// in the order the second occurrence was seen. A nil key compares elements verbatim.
func Duplicates(ss []string, key func(string) string) []string {
	if key == nil {
		key = func(s string) string { return s }
	}

	seen, result := map[string]int{}, make([]string, 0)
	for _, s := range ss {
		k := key(s)
		seen[k]++
		if seen[k] == 2 {
			result = append(result, s)
		}
	}

	return result
}

// JoinErrors folds a list of errors into one, each on its own line. Nil entries are
// skipped, and an empty list produces a nil error.
func JoinErrors(errs []error) error {
	msgs := []string{}
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}

	if len(msgs) == 0 {
		return nil
	}

	return &multiError{errs: errs, msg: strings.Join(msgs, "\n")}
}

type multiError struct {
	errs []error
	msg  string
}

func (e *multiError) Error() string { return e.msg }

// Errors exposes the wrapped errors, so callers can inspect each failure.
func (e *multiError) Errors() []error { return e.errs }

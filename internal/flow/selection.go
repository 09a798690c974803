package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// SelectionError explains why a numbered-list selection failed. Callers must
// handle it explicitly; there is no fallthrough string.
type SelectionError struct {
	Reason SelectionFailure
	Input  string
	Max    int
}

type SelectionFailure string

const (
	SelectionNotNumeric SelectionFailure = "not_numeric"
	SelectionOutOfRange SelectionFailure = "out_of_range"
	SelectionEmptyList  SelectionFailure = "empty_list"
)

func (e *SelectionError) Error() string {
	return fmt.Sprintf("invalid selection %q (%s, max %d)", e.Input, e.Reason, e.Max)
}

// ParseSelection interprets text as a 1-based index into a list of n items
// and returns the 0-based index on success.
func ParseSelection(text string, n int) (int, *SelectionError) {
	trimmed := strings.TrimSpace(text)
	if n <= 0 {
		return 0, &SelectionError{Reason: SelectionEmptyList, Input: trimmed, Max: n}
	}

	idx, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, &SelectionError{Reason: SelectionNotNumeric, Input: trimmed, Max: n}
	}
	if idx < 1 || idx > n {
		return 0, &SelectionError{Reason: SelectionOutOfRange, Input: trimmed, Max: n}
	}
	return idx - 1, nil
}

// affirmativeAnswers are the inputs treated as "yes" when walking a binary
// flow edge.
var affirmativeAnswers = map[string]bool{
	"yes": true, "sí": true, "si": true, "s": true,
}

// IsAffirmative classifies free text as a yes/no answer.
func IsAffirmative(text string) bool {
	return affirmativeAnswers[strings.ToLower(strings.TrimSpace(text))]
}

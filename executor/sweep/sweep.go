// Package sweep expands a sweep specification into job indices.
package sweep

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FormatError is returned for a specification none of the accepted shapes match.
type FormatError struct {
	Spec   string
	Reason string
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("invalid sweep %q: expected '1-10', '8' or '1,2,7'", e.Spec)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// ParseIndices parses N, A-B or A,B,C. A range is half-open: "1-4" is [1 2 3].
// Lists keep their order and duplicates. Whitespace is tolerated around range bounds and
// list items only; a single index must be bare digits.
func ParseIndices(spec string) ([]int, error) {
	switch {
	case strings.Contains(spec, "-"):
		parts := strings.Split(spec, "-")
		if len(parts) != 2 {
			return nil, &FormatError{Spec: spec}
		}
		begin, err1 := atoi(strings.TrimSpace(parts[0]))
		end, err2 := atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil {
			return nil, &FormatError{Spec: spec}
		}
		if begin >= end {
			return nil, &FormatError{Spec: spec, Reason: "range begin must be less than end"}
		}
		out := make([]int, 0, end-begin)
		for i := begin; i < end; i++ {
			out = append(out, i)
		}
		return out, nil

	case strings.Contains(spec, ","):
		parts := strings.Split(spec, ",")
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, &FormatError{Spec: spec}
			}
			out = append(out, n)
		}
		return out, nil
	}

	n, err := atoi(spec)
	if err != nil {
		return nil, &FormatError{Spec: spec}
	}
	return []int{n}, nil
}

var digits = regexp.MustCompile(`^[0-9]+$`)

// atoi accepts only unsigned decimal digits.
func atoi(s string) (int, error) {
	if !digits.MatchString(s) {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	return strconv.Atoi(s)
}

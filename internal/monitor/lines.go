package monitor

import (
	"strconv"
	"strings"
)

// LineRange is a closed interval of interpreter lines, Start <= End.
type LineRange struct {
	Start int
	End   int
}

// Contains reports whether line lies within r.
func (r LineRange) Contains(line int) bool {
	return line >= r.Start && line <= r.End
}

// ParseLineRanges parses "1-50,60-100" style lists. Single numbers ("7")
// are one-line ranges. Entries that are not numbers, or whose start is
// after their end, are skipped and returned in invalid so the caller can
// log them. An empty string yields no ranges.
func ParseLineRanges(s string) (ranges []LineRange, invalid []string) {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		r, ok := parseLineRange(part)
		if !ok {
			invalid = append(invalid, part)
			continue
		}
		ranges = append(ranges, r)
	}
	return ranges, invalid
}

func parseLineRange(s string) (LineRange, bool) {
	lo, hi, isRange := strings.Cut(s, "-")

	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return LineRange{}, false
	}
	end := start
	if isRange {
		if end, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return LineRange{}, false
		}
	}

	if start > end {
		return LineRange{}, false
	}
	return LineRange{Start: start, End: end}, true
}

// ShouldCheckLine reports whether the monitor applies at line.
// An empty set applies everywhere.
func ShouldCheckLine(ranges []LineRange, line int) bool {
	if len(ranges) == 0 {
		return true
	}
	for _, r := range ranges {
		if r.Contains(line) {
			return true
		}
	}
	return false
}

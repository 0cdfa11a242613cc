package lang

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cognicore/reason/pkg/reason/internalerr"
)

// TimeSpec is the payload of a time declaration or time op-arg: either
// the literal "*now" or a fixed UTC instant.
type TimeSpec struct {
	Now bool
	At  time.Time
}

// Resolve returns the concrete instant, substituting now for "*now".
func (ts TimeSpec) Resolve(now time.Time) time.Time {
	if ts.Now {
		return now
	}
	return ts.At
}

// String renders the time point back to its literal form.
func (ts TimeSpec) String() string {
	if ts.Now {
		return "*now"
	}
	return fmt.Sprintf("%d.%02d.%02d.%02d.%02d.%02d",
		ts.At.Year(), ts.At.Month(), ts.At.Day(),
		ts.At.Hour(), ts.At.Minute(), ts.At.Second())
}

// ParseTimeSpec parses the string payload of a time attribute. Accepted
// forms are "*now" and the dotted UTC literal yyyy.MM.dd[.hh.mm[.ss]].
func ParseTimeSpec(s string) (TimeSpec, error) {
	if s == "*now" {
		return TimeSpec{Now: true}, nil
	}
	at, err := parseDottedUTC(s)
	if err != nil {
		return TimeSpec{}, err
	}
	return TimeSpec{At: at}, nil
}

// parseDottedUTC parses yyyy.MM.dd, yyyy.MM.dd.hh.mm or
// yyyy.MM.dd.hh.mm.ss as a UTC instant.
func parseDottedUTC(s string) (time.Time, error) {
	parts := strings.Split(s, ".")
	if n := len(parts); n != 3 && n != 5 && n != 6 {
		return time.Time{}, fmt.Errorf("%w: time literal %q", internalerr.ErrInvalidInput, s)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: time literal %q", internalerr.ErrInvalidInput, s)
		}
		nums[i] = n
	}
	var hour, min, sec int
	if len(nums) >= 5 {
		hour, min = nums[3], nums[4]
	}
	if len(nums) == 6 {
		sec = nums[5]
	}
	t := time.Date(nums[0], time.Month(nums[1]), nums[2], hour, min, sec, 0, time.UTC)
	// time.Date normalizes out-of-range components; reject instead.
	if t.Year() != nums[0] || int(t.Month()) != nums[1] || t.Day() != nums[2] ||
		t.Hour() != hour || t.Minute() != min || t.Second() != sec {
		return time.Time{}, fmt.Errorf("%w: time literal %q out of range", internalerr.ErrInvalidInput, s)
	}
	return t, nil
}

package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Size represents a byte count. JSON accepts either a plain number of bytes
// or an integer string with a GiB/MiB/KiB/GB/MB/KB suffix.
type Size uint64

var sizePattern = regexp.MustCompile(`^([0-9]+)([A-Za-z]*)$`)

var sizeMultipliers = map[string]uint64{
	"GiB": 1 << 30,
	"MiB": 1 << 20,
	"KiB": 1 << 10,
	"GB":  1_000_000_000,
	"MB":  1_000_000,
	"KB":  1_000,
	"":    1,
	// single-letter forms for flag values
	"g": 1 << 30,
	"m": 1 << 20,
	"k": 1 << 10,
	"b": 1,
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Size) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*s = Size(v)
		return nil
	case string:
		return s.UnmarshalText([]byte(v))
	default:
		return fmt.Errorf("invalid size: %v", raw)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler, so Size works as a
// flag / environment config value as well.
func (s *Size) UnmarshalText(text []byte) error {
	m := sizePattern.FindSubmatch(text)
	if m == nil {
		return fmt.Errorf("invalid size format: %q", text)
	}
	mult, ok := sizeMultipliers[string(m[2])]
	if !ok {
		return fmt.Errorf("invalid size suffix: %q", m[2])
	}
	n, err := strconv.ParseUint(string(m[1]), 10, 64)
	if err != nil {
		return err
	}
	*s = Size(n * mult)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint64(s))
}

// Byte returns the size in bytes.
func (s Size) Byte() uint64 { return uint64(s) }

func (s Size) String() string {
	t := uint64(s)
	switch {
	case t >= 1<<30 && t%(1<<30) == 0:
		return fmt.Sprintf("%dGiB", t>>30)
	case t >= 1<<20 && t%(1<<20) == 0:
		return fmt.Sprintf("%dMiB", t>>20)
	case t >= 1<<10 && t%(1<<10) == 0:
		return fmt.Sprintf("%dKiB", t>>10)
	default:
		return fmt.Sprintf("%dB", t)
	}
}

// TimeLimit represents a per-state execution time limit, stored in
// microseconds. JSON accepts a plain number of seconds or an integer string
// with a m/s/ms/us suffix.
type TimeLimit uint64

var timeLimitPattern = regexp.MustCompile(`^([0-9]+)([A-Za-z]*)$`)

var timeLimitMultipliers = map[string]uint64{
	"m":  60 * 1_000_000,
	"s":  1_000_000,
	"ms": 1_000,
	"us": 1,
	"":   1_000_000,
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TimeLimit) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*t = TimeLimit(v * 1_000_000)
		return nil
	case string:
		m := timeLimitPattern.FindStringSubmatch(v)
		if m == nil {
			return fmt.Errorf("invalid time limit format: %q", v)
		}
		mult, ok := timeLimitMultipliers[m[2]]
		if !ok {
			return fmt.Errorf("invalid time limit suffix: %q", m[2])
		}
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return err
		}
		*t = TimeLimit(n * mult)
		return nil
	default:
		return fmt.Errorf("invalid time limit: %v", raw)
	}
}

// MarshalJSON implements json.Marshaler.
func (t TimeLimit) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%dus", uint64(t)))
}

// Microseconds returns the limit in microseconds.
func (t TimeLimit) Microseconds() uint64 { return uint64(t) }

// Duration converts the limit to a time.Duration.
func (t TimeLimit) Duration() time.Duration {
	return time.Duration(t) * time.Microsecond
}

// Seconds returns the limit rounded up to whole seconds, as handed to the
// resource limiter.
func (t TimeLimit) Seconds() int {
	return int((uint64(t) + 999_999) / 1_000_000)
}

// Package nnduration provides a non-negative duration type for configuration files.
package nnduration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Milliseconds is a non-negative duration in milliseconds.
// In JSON and YAML it is either an integer or a string accepted by time.ParseDuration.
type Milliseconds uint64

// UnmarshalJSON implements json.Unmarshaler.
func (d *Milliseconds) UnmarshalJSON(p []byte) error {
	s := strings.Trim(string(p), `"`)
	if dur, e := time.ParseDuration(s); e == nil {
		if dur < 0 {
			return fmt.Errorf("negative duration %s", s)
		}
		*d = Milliseconds(dur / time.Millisecond)
		return nil
	}
	v, e := strconv.ParseUint(s, 10, 64)
	if e != nil {
		return fmt.Errorf("duration %q: %w", s, e)
	}
	*d = Milliseconds(v)
	return nil
}

// Duration converts to time.Duration.
func (d Milliseconds) Duration() time.Duration {
	return time.Duration(d) * time.Millisecond
}

// DurationOr converts to time.Duration, or returns dflt milliseconds if d is zero.
func (d Milliseconds) DurationOr(dflt Milliseconds) time.Duration {
	if d == 0 {
		return dflt.Duration()
	}
	return d.Duration()
}

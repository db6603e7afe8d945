package scheduler

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// cronDue implements spec.md §4.J's minute-aligned due predicate:
// reconstruct nextRun from the start of the previous minute and check it
// falls within [minuteStart, minuteStart+60s). Using prevMinuteStart as the
// reference (rather than "now") makes the result independent of tick
// jitter — a tick running a few seconds late still evaluates the same
// window as one running on the dot.
//
// gronx accepts an optional "TZ=<name> " prefix on the expression itself;
// that's how per-job timezones (spec.md §3's `timezone` field) are applied.
func cronDue(expr, timezone string, prevMinuteStart, minuteStart time.Time) (bool, error) {
	full := expr
	if timezone != "" {
		full = fmt.Sprintf("TZ=%s %s", timezone, expr)
	}
	next, err := gronx.NextTickAfter(full, prevMinuteStart, false)
	if err != nil {
		return false, fmt.Errorf("evaluate cron expression %q: %w", expr, err)
	}
	return !next.Before(minuteStart) && next.Before(minuteStart.Add(time.Minute)), nil
}

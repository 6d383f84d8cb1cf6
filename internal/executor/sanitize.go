// internal/executor/sanitize.go
package executor

import (
	"math"
	"regexp"
	"strings"
	"time"
)

var (
	carriageReturns = regexp.MustCompile(`\r\n?`)
	horizontalRuns  = regexp.MustCompile(`[ \t]+`)
	lineEdgeSpaces  = regexp.MustCompile(` *\n *`)
	blankRuns       = regexp.MustCompile(`\n{3,}`)
)

// Sanitize normalizes captured command output and HTTP response bodies:
// runs of horizontal whitespace collapse to one space, runs of blank lines
// collapse to at most one, and the result is trimmed. Idempotent.
func Sanitize(s string) string {
	if s == "" {
		return s
	}

	s = carriageReturns.ReplaceAllString(s, "\n")
	s = horizontalRuns.ReplaceAllString(s, " ")
	s = lineEdgeSpaces.ReplaceAllString(s, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// roundSeconds converts a wall-clock duration to seconds rounded to two
// decimals, the precision recorded on every outcome.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

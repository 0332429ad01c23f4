package engine

import (
	"errors"
	"fmt"
)

// LineageQuota bounds the number of derived events a single external
// submission may produce.
//
// The recursion depth bound limits how deep a lineage goes; it does not
// limit how wide it fans out. A rule set where every event feeds several
// rules can multiply derivations at every level, so the quota caps the
// total (depth x breadth) per lineage.
//
// Each lineage gets its own LineageQuota. Zero or negative max disables it.
type LineageQuota struct {
	max     int
	current int
}

// NewLineageQuota creates a quota allowing max derived events.
func NewLineageQuota(max int) *LineageQuota {
	return &LineageQuota{max: max}
}

// Check counts one derived event and validates it against the limit.
func (q *LineageQuota) Check(lineage string) error {
	q.current++
	if q.max > 0 && q.current > q.max {
		return &LineageQuotaError{
			Lineage: lineage,
			Events:  q.current,
			Limit:   q.max,
		}
	}
	return nil
}

// Current returns the number of derived events counted so far.
func (q *LineageQuota) Current() int {
	return q.current
}

// Max returns the configured limit.
func (q *LineageQuota) Max() int {
	return q.max
}

// LineageQuotaError reports a truncated lineage.
//
// The lineage stops; events already delivered stay delivered. It is not
// returned to callers of ProcessPublishedEvent, only logged and counted.
type LineageQuotaError struct {
	Lineage string
	Events  int
	Limit   int
}

// Error implements the error interface.
func (e *LineageQuotaError) Error() string {
	return fmt.Sprintf("%s: lineage %s exceeded derived event quota: %d events > %d limit",
		ErrCodeLineageQuota, e.Lineage, e.Events, e.Limit)
}

// IsLineageQuotaError returns true if the error is a LineageQuotaError.
func IsLineageQuotaError(err error) bool {
	var qe *LineageQuotaError
	return errors.As(err, &qe)
}

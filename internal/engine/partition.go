package engine

// ruleRange is the half-open slice [lower, upper) of installed rule indexes
// owned by one unit.
type ruleRange struct {
	lower int
	upper int
}

func (r ruleRange) empty() bool {
	return r.upper <= r.lower
}

// partition splits total rules into units contiguous ranges.
//
// Each unit gets total/units rules; the remainder goes to the last unit.
// With fewer rules than units the leading units own empty ranges.
func partition(total, units int) []ruleRange {
	if units <= 0 {
		return nil
	}
	out := make([]ruleRange, units)
	per := total / units
	for i := range out {
		out[i] = ruleRange{lower: i * per, upper: (i + 1) * per}
	}
	out[units-1].upper = total
	return out
}

package probe

// swdDivisor maps an SWD bit-clock frequency to the divisor byte the
// probe accepts for apiV2SwdSetFreq.
type swdDivisor struct {
	hz      uint32
	divisor byte
}

// Ordered descending by frequency. Divisors above 255 (15 kHz and
// below) do not fit the single-byte command field.
var swdFrequencies = []swdDivisor{
	{4000000, 0},
	{1800000, 1}, // probe default
	{1200000, 2},
	{950000, 3},
	{480000, 7},
	{240000, 15},
	{125000, 31},
	{100000, 40},
	{50000, 79},
	{25000, 158},
}

// pickSWDDivisor selects the fastest tabulated frequency not exceeding
// hz. ok is false when hz is below the slowest table entry.
func pickSWDDivisor(hz uint32) (swdDivisor, bool) {
	for _, f := range swdFrequencies {
		if hz >= f.hz {
			return f, true
		}
	}
	return swdDivisor{}, false
}

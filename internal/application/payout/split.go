package payout

// ComputeSplit divides a fixed pool evenly across recipients using integer
// floor division. The remainder stays unassigned; it is not refunded
// automatically. An empty recipient set yields an empty split.
func ComputeSplit(pool int64, recipients []string) map[string]int64 {
	split := make(map[string]int64, len(recipients))
	if len(recipients) == 0 || pool <= 0 {
		return split
	}
	per := pool / int64(len(recipients))
	for _, r := range recipients {
		split[r] = per
	}
	return split
}

// Remainder returns the unassigned amount of a split.
func Remainder(pool int64, split map[string]int64) int64 {
	var sum int64
	for _, amount := range split {
		sum += amount
	}
	return pool - sum
}

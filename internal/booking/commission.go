package booking

// Calculator splits a gross amount between owner and platform.  Rates
// are basis points of the gross; an owner-specific override takes
// precedence over the platform default.
type Calculator struct {
	DefaultBps int
}

// Breakdown is the result of a split.  The invariant
// OwnerPence + PlatformPence == gross holds for every input: the owner
// share is floored and the platform side absorbs the rounding
// remainder, uniformly at every call site.
type Breakdown struct {
	OwnerPence    int64
	PlatformPence int64
	RateBps       int
	Override      bool
}

// Split divides gross pence using the override rate when set.
func (c Calculator) Split(grossPence int64, overrideBps *int) Breakdown {
	rate := c.DefaultBps
	override := false
	if overrideBps != nil {
		rate = *overrideBps
		override = true
	}
	if rate < 0 {
		rate = 0
	}
	if rate > 10000 {
		rate = 10000
	}
	owner := grossPence * int64(10000-rate) / 10000
	return Breakdown{
		OwnerPence:    owner,
		PlatformPence: grossPence - owner,
		RateBps:       rate,
		Override:      override,
	}
}

// SplitEvenly divides a total across n parts; the last part absorbs
// the division remainder so the parts always sum back to the total.
// Used to spread a multi-slot basket's price and shares across its
// per-slot rows.
func SplitEvenly(total int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	parts := make([]int64, n)
	each := total / int64(n)
	for i := range parts {
		parts[i] = each
	}
	parts[n-1] = total - each*int64(n-1)
	return parts
}

package ledger

// Size and page thresholds for the credit tiers.
const (
	MediumSizeBytes = 2 * 1024 * 1024
	LargeSizeBytes  = 5 * 1024 * 1024

	MediumPageCount = 10
	LargePageCount  = 30
)

// Credits charged per tier.
const (
	SmallCost  = 1
	MediumCost = 2
	LargeCost  = 4
)

// CalculateCost returns the credits one file costs. Size is authoritative;
// the page count is only consulted when the size is unknown (<= 0). The
// result never decreases as either input grows.
func CalculateCost(sizeBytes int64, pageCount int) int {
	if sizeBytes > 0 {
		switch {
		case sizeBytes >= LargeSizeBytes:
			return LargeCost
		case sizeBytes >= MediumSizeBytes:
			return MediumCost
		default:
			return SmallCost
		}
	}

	switch {
	case pageCount >= LargePageCount:
		return LargeCost
	case pageCount >= MediumPageCount:
		return MediumCost
	default:
		return SmallCost
	}
}

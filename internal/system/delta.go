package system

import "math"

// DeltaCounter treats a counter that went backwards as a reset.
func DeltaCounter(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

func deltaFloat(cur, prev float64) float64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

func PercentDelta(cur, prev, totalDelta uint64) float64 {
	if totalDelta == 0 {
		return 0
	}
	return ClampPercent((float64(DeltaCounter(cur, prev)) / float64(totalDelta)) * 100)
}

func percentDeltaFloat(cur, prev, totalDelta float64) float64 {
	if totalDelta <= 0 {
		return 0
	}
	return ClampPercent(deltaFloat(cur, prev) / totalDelta * 100)
}

// ClampPercent bounds value to [0, 100]. NaN becomes 0.
func ClampPercent(value float64) float64 {
	if math.IsNaN(value) || value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

func PercentOf(value, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return ClampPercent((float64(value) / float64(total)) * 100)
}

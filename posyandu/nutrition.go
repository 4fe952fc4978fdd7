package posyandu

import (
	"fmt"
	"math"
)

// NutritionStatus is the weight-for-age band of a measurement.
type NutritionStatus string

const (
	SeverelyUnderweight NutritionStatus = "severely_underweight"
	Underweight         NutritionStatus = "underweight"
	Normal              NutritionStatus = "normal"
	RiskOfOverweight    NutritionStatus = "risk_of_overweight"
)

// ZScore is (measure - median) / sd against the reference for the child's age and sex.
func ZScore(measure, median, sd float64) (float64, error) {
	if sd <= 0 || math.IsNaN(sd) {
		return 0, fmt.Errorf("%w: reference standard deviation must be positive", ErrInvalid)
	}
	return (measure - median) / sd, nil
}

/*
Classify maps a weight-for-age z-score to its band:

	z < -3        severely underweight
	-3 <= z < -2  underweight
	-2 <= z <= 1  normal
	z > 1         risk of overweight
*/
func Classify(z float64) NutritionStatus {
	switch {
	case z < -3:
		return SeverelyUnderweight
	case z < -2:
		return Underweight
	case z <= 1:
		return Normal
	default:
		return RiskOfOverweight
	}
}

// CountStatuses tallies report rows per band.
func CountStatuses(rows []ReportRow) map[NutritionStatus]int {
	counts := map[NutritionStatus]int{
		SeverelyUnderweight: 0,
		Underweight:         0,
		Normal:              0,
		RiskOfOverweight:    0,
	}
	for _, r := range rows {
		counts[r.Status]++
	}
	return counts
}

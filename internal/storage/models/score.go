package models

type ScoreKind int

const (
	ScoreAbsent ScoreKind = iota
	ScoreScalar
	ScoreRange
)

// Score is a tagged feedback rating: absent, a single value in [0,1], or a
// low/high range whose midpoint is used wherever a scalar is needed.
type Score struct {
	Kind ScoreKind
	Val  float64
	Low  float64
	High float64
}

func NoScore() Score {
	return Score{Kind: ScoreAbsent}
}

func ScalarScore(v float64) Score {
	return Score{Kind: ScoreScalar, Val: clamp01(v)}
}

func RangeScore(low, high float64) Score {
	if low > high {
		low, high = high, low
	}
	return Score{Kind: ScoreRange, Low: clamp01(low), High: clamp01(high)}
}

// Scalar reduces the score to a single value. Range scores collapse to
// their midpoint. The second return is false when the score is absent.
func (s Score) Scalar() (float64, bool) {
	switch s.Kind {
	case ScoreScalar:
		return s.Val, true
	case ScoreRange:
		return (s.Low + s.High) / 2, true
	default:
		return 0, false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package engine

import (
	"fmt"
	"math"
)

// Curve selects the gain-automation shape used during a crossfade. Every
// curve maps progress in [0,1] to a (fadeOut, fadeIn) gain pair obeying
// fadeOut(0)=fadeIn(1)=1 and fadeOut(1)=fadeIn(0)=0.
type Curve string

const (
	CurveLinear      Curve = "linear"
	CurveEqualPower  Curve = "equal-power"
	CurveSCurve      Curve = "s-curve"
	CurveLogarithmic Curve = "logarithmic"
	CurveExponential Curve = "exponential"
)

// Curves lists every supported curve.
func Curves() []Curve {
	return []Curve{CurveLinear, CurveEqualPower, CurveSCurve, CurveLogarithmic, CurveExponential}
}

// ParseCurve validates a curve name.
func ParseCurve(s string) (Curve, error) {
	for _, c := range Curves() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown crossfade curve %q", s)
}

// Gains evaluates the curve at the given progress. Progress outside [0,1]
// is clamped.
func (c Curve) Gains(progress float64) (fadeOut, fadeIn float64) {
	p := progress
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}

	switch c {
	case CurveEqualPower:
		// Cosine/sine quarter-periods keep combined perceived loudness
		// roughly constant through the transition.
		return math.Cos(p * math.Pi / 2), math.Sin(p * math.Pi / 2)
	case CurveSCurve:
		s := smoothstep(p)
		return 1 - s, s
	case CurveLogarithmic:
		return math.Log10(1 + 9*(1-p)), math.Log10(1 + 9*p)
	case CurveExponential:
		return (1 - p) * (1 - p), p * p
	default:
		return 1 - p, p
	}
}

// smoothstep is the cubic 3t^2 - 2t^3 ease, used by the s-curve.
func smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

package family

import (
	"fmt"
	"math"
)

// Schedule maps the current family count onto a join threshold. Count
// below Breakpoints[0] uses Thresholds[0], below Breakpoints[1] uses
// Thresholds[1], and so on; at or beyond the last breakpoint the last
// threshold applies. Thresholds never decrease, so a growing pool favours
// joining over differentiating.
type Schedule struct {
	Breakpoints []int     `koanf:"breakpoints" json:"breakpoints"`
	Thresholds  []float64 `koanf:"thresholds" json:"thresholds"`
}

// DefaultSchedule returns 0.55 below 8 families, 0.65 below 24, else 0.75.
func DefaultSchedule() Schedule {
	return Schedule{
		Breakpoints: []int{8, 24},
		Thresholds:  []float64{0.55, 0.65, 0.75},
	}
}

// Threshold returns the join threshold for count existing families.
func (s Schedule) Threshold(count int) float64 {
	for i, bp := range s.Breakpoints {
		if count < bp {
			return s.Thresholds[i]
		}
	}
	return s.Thresholds[len(s.Thresholds)-1]
}

// Validate checks shape and monotonicity.
func (s Schedule) Validate() error {
	if len(s.Thresholds) != len(s.Breakpoints)+1 {
		return fmt.Errorf("%w: %d thresholds for %d breakpoints, want %d",
			ErrInvalidConfig, len(s.Thresholds), len(s.Breakpoints), len(s.Breakpoints)+1)
	}
	prev := 0
	for i, bp := range s.Breakpoints {
		if bp <= prev {
			return fmt.Errorf("%w: breakpoint %d (%d) must be greater than %d", ErrInvalidConfig, i, bp, prev)
		}
		prev = bp
	}
	last := math.Inf(-1)
	for i, th := range s.Thresholds {
		if math.IsNaN(th) || th < -1 || th > 1 {
			return fmt.Errorf("%w: threshold %d (%v) must be a cosine in [-1,1]", ErrInvalidConfig, i, th)
		}
		if th < last {
			return fmt.Errorf("%w: thresholds must be non-decreasing", ErrInvalidConfig)
		}
		last = th
	}
	return nil
}

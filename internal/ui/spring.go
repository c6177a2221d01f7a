package ui

import (
	"math"

	"github.com/charmbracelet/harmonica"
)

// snapDistance is the jump in progress ratio (a seek or a new song) past
// which the bar moves immediately instead of animating.
const snapDistance = 0.05

// positionSpring smooths the progress ratio between position polls.
type positionSpring struct {
	spring harmonica.Spring
	pos    float64
	vel    float64
}

func newPositionSpring() positionSpring {
	return positionSpring{spring: harmonica.NewSpring(harmonica.FPS(frameRate), 6.0, 1.0)}
}

func (s *positionSpring) step(target float64) float64 {
	if math.Abs(target-s.pos) > snapDistance {
		s.snap(target)
		return s.pos
	}
	s.pos, s.vel = s.spring.Update(s.pos, s.vel, target)
	return s.pos
}

func (s *positionSpring) snap(v float64) {
	s.pos = v
	s.vel = 0
}

package gesture

import (
	"errors"
	"fmt"
	"time"

	"sidequest/internal/domain"
)

// Direction is the sign of a committed swipe.
type Direction int

const (
	Reject Direction = -1
	Accept Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Action maps the direction to the stored decision action.
func (d Direction) Action() string {
	if d == Accept {
		return domain.ActionLiked
	}
	return domain.ActionDisliked
}

// ParseDirection accepts accept/reject as well as the stored action names.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "accept", "right", domain.ActionLiked:
		return Accept, nil
	case "reject", "left", domain.ActionDisliked:
		return Reject, nil
	}
	return 0, fmt.Errorf("invalid direction %q", s)
}

// Params holds the constants shared by the live feedback mapping and the
// commit decision. AcceptOpacity reaches 1 exactly at Threshold.
type Params struct {
	Threshold    float64
	DeadZone     float64
	ExitOffset   float64
	MaxRotation  float64
	AdvanceDelay time.Duration
}

func DefaultParams() Params {
	return Params{
		Threshold:    100,
		DeadZone:     20,
		ExitOffset:   300,
		MaxRotation:  30,
		AdvanceDelay: 300 * time.Millisecond,
	}
}

func (p Params) Validate() error {
	if p.DeadZone < 0 {
		return errors.New("gesture: dead zone must not be negative")
	}
	if p.Threshold <= p.DeadZone {
		return fmt.Errorf("gesture: threshold %.1f must exceed dead zone %.1f", p.Threshold, p.DeadZone)
	}
	if p.ExitOffset <= p.Threshold {
		return fmt.Errorf("gesture: exit offset %.1f must exceed threshold %.1f", p.ExitOffset, p.Threshold)
	}
	if p.MaxRotation <= 0 {
		return errors.New("gesture: max rotation must be positive")
	}
	if p.AdvanceDelay < 0 {
		return errors.New("gesture: advance delay must not be negative")
	}
	return nil
}

// Feedback is the visual tuple emitted per frame of drag.
type Feedback struct {
	Offset        float64 `json:"offset"`
	Rotation      float64 `json:"rotation"`
	AcceptOpacity float64 `json:"accept_opacity"`
	RejectOpacity float64 `json:"reject_opacity"`
	CardOpacity   float64 `json:"card_opacity"`
}

// Rotation interpolates through (-ExitOffset,-MaxRotation), (0,0) and
// (ExitOffset,MaxRotation), clamped outside the anchors.
func (p Params) Rotation(offset float64) float64 {
	return lerpClamp(offset, -p.ExitOffset, p.ExitOffset, -p.MaxRotation, p.MaxRotation)
}

// AcceptOpacity is 0 up to the dead zone and rises linearly to 1 at the
// commit threshold.
func (p Params) AcceptOpacity(offset float64) float64 {
	return lerpClamp(offset, p.DeadZone, p.Threshold, 0, 1)
}

func (p Params) RejectOpacity(offset float64) float64 {
	return p.AcceptOpacity(-offset)
}

func (p Params) Feedback(offset float64) Feedback {
	return Feedback{
		Offset:        offset,
		Rotation:      p.Rotation(offset),
		AcceptOpacity: p.AcceptOpacity(offset),
		RejectOpacity: p.RejectOpacity(offset),
		CardOpacity:   1,
	}
}

// exitFeedback is the final frame of the exit animation.
func (p Params) exitFeedback(offset float64) Feedback {
	f := p.Feedback(offset)
	f.CardOpacity = 0
	return f
}

// Classify is the single offset-threshold decision used by every input path.
func (p Params) Classify(offset float64) (Direction, bool) {
	switch {
	case offset > p.Threshold:
		return Accept, true
	case offset < -p.Threshold:
		return Reject, true
	default:
		return 0, false
	}
}

func lerpClamp(x, x0, x1, y0, y1 float64) float64 {
	if x <= x0 {
		return y0
	}
	if x >= x1 {
		return y1
	}
	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}

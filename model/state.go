package model

import "time"

// EndPolicy selects what happens when the cursor runs off either end of the
// source video.
type EndPolicy string

const (
	// EndPolicyLoop wraps the cursor around to the opposite end.
	EndPolicyLoop EndPolicy = "loop"
	// EndPolicyStop pins the cursor at the last valid frame.
	EndPolicyStop EndPolicy = "stop"
	// EndPolicyReverse reflects the cursor off the boundary and flips the
	// step direction, so playback bounces back and forth.
	EndPolicyReverse EndPolicy = "reverse"
)

// Valid reports whether p is a recognized policy.
func (p EndPolicy) Valid() bool {
	switch p {
	case EndPolicyLoop, EndPolicyStop, EndPolicyReverse:
		return true
	}
	return false
}

// PlaybackState is the durable playback cursor. It is the only state that
// survives between ticks; everything else is recomputed per invocation.
type PlaybackState struct {
	Position          int64     `json:"position"`
	Step              int64     `json:"step"`
	TotalFrames       int64     `json:"totalFrames"`
	SourceFingerprint string    `json:"sourceFingerprint"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// InRange reports whether the cursor points at a decodable frame of the
// current source.
func (s *PlaybackState) InRange() bool {
	return s.TotalFrames > 0 && s.Position >= 0 && s.Position < s.TotalFrames
}

// Normalize brings an out-of-range cursor back into [0, total) according to
// the end-of-video policy. The step is returned alongside because the
// reverse policy flips its sign. A cursor already in range is returned
// unchanged.
func Normalize(position, step, total int64, policy EndPolicy) (int64, int64) {
	if total <= 0 {
		return 0, step
	}
	if position >= 0 && position < total {
		return position, step
	}
	if total == 1 {
		return 0, step
	}

	switch policy {
	case EndPolicyStop:
		if position < 0 {
			return 0, step
		}
		return total - 1, step
	case EndPolicyReverse:
		p, st := position, step
		for p < 0 || p >= total {
			if p < 0 {
				p = -p
				st = -st
			}
			if p >= total {
				p = 2*(total-1) - p
				st = -st
			}
		}
		return p, st
	default: // EndPolicyLoop
		p := position % total
		if p < 0 {
			p += total
		}
		return p, step
	}
}

// Advance computes the cursor for the next tick after a confirmed render at
// the current position. Pure; callers persist the result only after the
// frame has actually been shown.
func Advance(position, step, total int64, policy EndPolicy) (int64, int64) {
	return Normalize(position+step, step, total, policy)
}

package timestep

import "fmt"

// ObsSpace describes the layout of a raw per-agent observation vector.
// A raw vector concatenates, in order: the action validity mask (if
// present), the local observation, and the shared global state (if
// present). The local observation sub-space is required.
type ObsSpace struct {
	NumAgents  int
	NumActions int

	// ObsDim is the width of the local observation sub-space.
	ObsDim int

	// StateDim is the width of the shared global state sub-space, or 0
	// when the group records no global state.
	StateDim int

	// HasActionMask reports whether raw vectors carry a leading
	// per-action validity mask of width NumActions.
	HasActionMask bool
}

// NewObsSpace validates and returns an observation-space layout.
func NewObsSpace(numAgents, numActions, obsDim, stateDim int,
	hasActionMask bool) (ObsSpace, error) {
	if numAgents < 1 {
		return ObsSpace{}, fmt.Errorf("newobsspace: agent groups must "+
			"have at least one agent \n\twant(>0) \n\thave(%v)", numAgents)
	}
	if numActions < 1 {
		return ObsSpace{}, fmt.Errorf("newobsspace: discrete action "+
			"spaces must have at least one action \n\twant(>0) "+
			"\n\thave(%v)", numActions)
	}
	if obsDim < 1 {
		return ObsSpace{}, fmt.Errorf("newobsspace: observation space " +
			"must have an obs sub-space")
	}
	if stateDim < 0 {
		return ObsSpace{}, fmt.Errorf("newobsspace: negative state "+
			"dimension %v", stateDim)
	}

	return ObsSpace{
		NumAgents:     numAgents,
		NumActions:    numActions,
		ObsDim:        obsDim,
		StateDim:      stateDim,
		HasActionMask: hasActionMask,
	}, nil
}

// HasState reports whether raw vectors carry a global state sub-space.
func (s ObsSpace) HasState() bool {
	return s.StateDim > 0
}

// RawLen returns the total width of a raw observation vector.
func (s ObsSpace) RawLen() int {
	length := s.ObsDim + s.StateDim
	if s.HasActionMask {
		length += s.NumActions
	}
	return length
}

// Unpack splits a raw observation vector into its action mask, local
// observation, and global state components. When the space carries no
// action mask, a mask of all ones is returned, allowing every action.
// When the space carries no global state, state is nil.
func (s ObsSpace) Unpack(raw []float64) (mask, obs,
	state []float64, err error) {
	if len(raw) != s.RawLen() {
		return nil, nil, nil, fmt.Errorf("unpack: invalid raw "+
			"observation length \n\twant(%v) \n\thave(%v)", s.RawLen(),
			len(raw))
	}

	offset := 0
	if s.HasActionMask {
		mask = raw[:s.NumActions]
		offset = s.NumActions
	} else {
		mask = make([]float64, s.NumActions)
		for i := range mask {
			mask[i] = 1.0
		}
	}

	obs = raw[offset : offset+s.ObsDim]
	if s.HasState() {
		state = raw[offset+s.ObsDim:]
	}
	return mask, obs, state, nil
}

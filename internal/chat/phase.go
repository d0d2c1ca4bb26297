package chat

import (
	"encoding/json"
	"fmt"
)

// Phase is the workflow stage of a guided conversation. Phases only move
// forward along the canonical order; a fresh session always starts at intro.
type Phase string

const (
	PhaseIntro     Phase = "intro"
	PhaseGathering Phase = "gathering"
	PhasePortfolio Phase = "portfolio"
	PhaseMatching  Phase = "matching"
	PhaseResults   Phase = "results"
)

var phaseOrder = map[Phase]int{
	PhaseIntro:     0,
	PhaseGathering: 1,
	PhasePortfolio: 2,
	PhaseMatching:  3,
	PhaseResults:   4,
}

// Phases lists every phase in canonical order.
func Phases() []Phase {
	return []Phase{PhaseIntro, PhaseGathering, PhasePortfolio, PhaseMatching, PhaseResults}
}

func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Before reports whether p comes strictly before other in the canonical order.
func (p Phase) Before(other Phase) bool {
	return phaseOrder[p] < phaseOrder[other]
}

// CanTransition reports whether a session sitting in from may move to to.
// Staying put is allowed; results keeps accepting turns.
func CanTransition(from, to Phase) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return !to.Before(from)
}

func (p *Phase) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParsePhase(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

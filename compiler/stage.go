package compiler

import "fmt"

// Stage is the state of a compilation.
type Stage int

const (
	StagePending Stage = iota
	StageLoaded
	StageParsed
	StageEvaluated
	StageLaidOut
	StageExported
	// StageFailed is terminal and reachable from every other stage.
	StageFailed
)

var stageNames = [...]string{"pending", "loaded", "parsed", "evaluated", "laid-out", "exported", "failed"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// MarshalText renders the stage name in JSON and YAML.
func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CanAdvance reports whether from -> to is a valid transition: one step
// forward, or into Failed from any non-terminal stage.
func (s Stage) CanAdvance(to Stage) bool {
	switch {
	case s == StageFailed || s == StageExported:
		return false
	case to == StageFailed:
		return true
	}
	return to == s+1
}

// SPDX-License-Identifier: MIT
package stream

import (
	"fmt"

	"micscope/internal/analysis"
	"micscope/internal/events"
)

// Status is the orchestrator state.
type Status int

const (
	StatusIdle Status = iota
	StatusStarting
	StatusActive
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusStarting:
		return "starting"
	case StatusActive:
		return "active"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status name in JSON and YAML output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StatusChanged is published when the status actually changes.
type StatusChanged struct {
	Status   Status
	Previous Status
}

// AnalyserChanged is published when an analyser is bound to a new session
// (Analyser set) or disposed (Analyser nil).
type AnalyserChanged struct {
	Analyser *analysis.Analyser
}

func (StatusChanged) Kind() events.Kind   { return events.KindStatus }
func (AnalyserChanged) Kind() events.Kind { return events.KindAnalyser }

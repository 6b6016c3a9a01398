package agent

import (
	"fmt"
	"strings"
)

// Scenario selects which tasks an agent runs.
type Scenario string

const (
	ScenarioStatus   Scenario = "status"
	ScenarioLocation Scenario = "location"
	ScenarioCommand  Scenario = "command"
	ScenarioAll      Scenario = "all"
)

func ParseScenario(s string) (Scenario, error) {
	switch sc := Scenario(strings.ToLower(strings.TrimSpace(s))); sc {
	case ScenarioStatus, ScenarioLocation, ScenarioCommand, ScenarioAll:
		return sc, nil
	case "":
		return ScenarioAll, nil
	default:
		return "", fmt.Errorf("invalid scenario %q (allowed: status, location, command, all)", s)
	}
}

// Includes reports whether task runs under s.
func (s Scenario) Includes(task Scenario) bool {
	return s == ScenarioAll || s == task
}

// State is the agent lifecycle position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistered
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

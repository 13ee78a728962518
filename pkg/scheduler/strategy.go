// Package scheduler resolves the story trigger graph for a player and runs
// each beat through an executor chosen once per call from the player's mode.
package scheduler

import "argent/pkg/protocol"

// Strategy names an executor.
type Strategy int

const (
	// StrategyImmediate runs handlers synchronously in the caller.
	StrategyImmediate Strategy = iota
	// StrategyDeferred hands beats to the job queue with a sampled delay.
	StrategyDeferred
)

func (s Strategy) String() string {
	if s == StrategyImmediate {
		return "immediate"
	}
	return "deferred"
}

// SelectStrategy picks the executor for a player. Web-only players and the
// force-immediate override run immediately; everyone else is deferred.
func SelectStrategy(forceImmediate bool, mode protocol.Mode) Strategy {
	if forceImmediate || mode == protocol.ModeWebOnly {
		return StrategyImmediate
	}
	return StrategyDeferred
}

package pipeline

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/BaSui01/narraflow/types"
)

var allRunStates = []types.RunState{
	types.RunStatePending,
	types.RunStateSampling,
	types.RunStateBatching,
	types.RunStateDescribing,
	types.RunStateAggregating,
	types.RunStateGenerating,
	types.RunStateDone,
	types.RunStateFailed,
}

// genRunState 均匀抽取任意运行状态，含终态。
func genRunState() gopter.Gen {
	return gen.OneConstOf(
		types.RunStatePending,
		types.RunStateSampling,
		types.RunStateBatching,
		types.RunStateDescribing,
		types.RunStateAggregating,
		types.RunStateGenerating,
		types.RunStateDone,
		types.RunStateFailed,
	)
}

func TestStateMachineProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("terminal states admit no outgoing transition", prop.ForAll(
		func(to types.RunState) bool {
			return !canTransition(types.RunStateDone, to) &&
				!canTransition(types.RunStateFailed, to)
		},
		genRunState(),
	))

	properties.Property("failed is reachable from exactly the non-terminal states", prop.ForAll(
		func(from types.RunState) bool {
			return canTransition(from, types.RunStateFailed) == !from.Terminal()
		},
		genRunState(),
	))

	properties.Property("progress never regresses along an allowed transition", prop.ForAll(
		func(from, to types.RunState) bool {
			if to == types.RunStateFailed || !canTransition(from, to) {
				return true
			}
			return stateProgress[to] >= stateProgress[from]
		},
		genRunState(), genRunState(),
	))

	properties.Property("pending is never re-entered", prop.ForAll(
		func(from types.RunState) bool {
			return !canTransition(from, types.RunStatePending)
		},
		genRunState(),
	))

	properties.Property("the forward path is linear", prop.ForAll(
		func(from types.RunState) bool {
			forward := 0
			for _, to := range allRunStates {
				if to != types.RunStateFailed && canTransition(from, to) {
					forward++
				}
			}
			return forward <= 1
		},
		genRunState(),
	))

	properties.TestingRun(t)
}

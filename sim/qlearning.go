package sim

import (
	"fmt"
	"math/rand"
)

// Q-Learning actions for the light controller.
const (
	ActionKeep   = "keep"
	ActionChange = "change"
)

var qActions = []string{ActionChange, ActionKeep}

// QLearner is a tabular Q-Learning policy over discretized intersection
// states. It learns online: every decision first applies the Bellman
// update for the previous (state, action) pair using the freshly
// observed reward, then picks the next action epsilon-greedily.
type QLearner struct {
	table map[string]map[string]float64

	Alpha        float64 // learning rate
	Gamma        float64 // discount factor
	Epsilon      float64 // exploration probability
	EpsilonDecay float64
	EpsilonMin   float64

	prevState  string
	prevAction string

	rng *rand.Rand

	Updates      int
	Explorations int
}

// NewQLearner creates a learner with the standard hyperparameters.
func NewQLearner(rng *rand.Rand) *QLearner {
	return &QLearner{
		table:        make(map[string]map[string]float64),
		Alpha:        0.1,
		Gamma:        0.9,
		Epsilon:      0.1,
		EpsilonDecay: 0.995,
		EpsilonMin:   0.01,
		rng:          rng,
	}
}

// QState discretizes an intersection observation into a table key:
// queue lengths bucketed by 3 and capped at 5, plus the current phase.
func QState(nsQueue, ewQueue int, phase Phase) string {
	ns := nsQueue / 3
	if ns > 5 {
		ns = 5
	}
	ew := ewQueue / 3
	if ew > 5 {
		ew = 5
	}
	return fmt.Sprintf("%d_%d_%s", ns, ew, phase)
}

// Q returns the current value estimate for (state, action).
func (q *QLearner) Q(state, action string) float64 {
	return q.table[state][action]
}

// setQ writes a table entry, allocating the row lazily.
func (q *QLearner) setQ(state, action string, value float64) {
	row, ok := q.table[state]
	if !ok {
		row = make(map[string]float64)
		q.table[state] = row
	}
	row[action] = value
}

// Update applies one Bellman step:
//
//	Q(s,a) += alpha * (r + gamma * max_a' Q(s',a') - Q(s,a))
func (q *QLearner) Update(state, action string, reward float64, nextState string) {
	best := q.maxQ(nextState)
	old := q.Q(state, action)
	q.setQ(state, action, old+q.Alpha*(reward+q.Gamma*best-old))
	q.Updates++
}

func (q *QLearner) maxQ(state string) float64 {
	best := 0.0
	first := true
	for _, a := range qActions {
		v := q.Q(state, a)
		if first || v > best {
			best = v
			first = false
		}
	}
	return best
}

// ChooseAction picks epsilon-greedily, then decays epsilon toward its
// floor. Greedy ties resolve in favor of ActionChange (first in the
// fixed action order).
func (q *QLearner) ChooseAction(state string) string {
	var action string
	if q.rng.Float64() < q.Epsilon {
		action = qActions[q.rng.Intn(len(qActions))]
		q.Explorations++
	} else {
		action = qActions[0]
		best := q.Q(state, qActions[0])
		for _, a := range qActions[1:] {
			if v := q.Q(state, a); v > best {
				best = v
				action = a
			}
		}
	}
	q.Epsilon *= q.EpsilonDecay
	if q.Epsilon < q.EpsilonMin {
		q.Epsilon = q.EpsilonMin
	}
	return action
}

// Decide learns from the reward observed since the previous decision,
// then returns whether the controller should change phase now.
func (q *QLearner) Decide(state string, reward float64) bool {
	if q.prevState != "" {
		q.Update(q.prevState, q.prevAction, reward, state)
	}
	action := q.ChooseAction(state)
	q.prevState = state
	q.prevAction = action
	return action == ActionChange
}

// States returns the number of visited table rows.
func (q *QLearner) States() int {
	return len(q.table)
}

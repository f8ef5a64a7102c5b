// Package sim implements an agent-based urban traffic simulator.
//
// The simulation advances in fixed time steps. Each tick the scheduler
// activates every agent in a seeded random order; agents run a
// belief-desire-intention cycle (perceive, generate desires, deliberate,
// execute intentions), exchange FIPA-style messages over a shared bus,
// and move through a weighted road network. Intersections control their
// lights with Max-Pressure or tabular Q-Learning and coordinate green
// waves with their neighbors; a crisis manager prioritizes emergency
// vehicles and delegates congestion handling through a Contract-Net
// protocol.
//
// Determinism: given the same configuration and random seed, a run is
// bit-for-bit reproducible. All randomness flows through PartitionedRNG.
package sim

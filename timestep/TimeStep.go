// Package timestep implements timesteps of the agent group-environment
// interaction.
package timestep

// Step packages together a single timestep of an agent group. Each
// agent contributes one raw observation vector whose layout is
// described by an ObsSpace. Steps are produced by the rollout
// collaborator and are immutable once recorded.
type Step struct {
	// EpisodeID and GroupID identify the episode and agent group that
	// produced the step. Steps sharing both IDs form one episode
	// fragment, ordered by Index.
	EpisodeID int64
	GroupID   int64
	Index     int

	// Obs and NextObs hold one raw observation vector per agent for
	// the current and following timestep.
	Obs     [][]float64
	NextObs [][]float64

	// Actions holds the action taken by each agent, in [0, numActions).
	Actions []int

	// Rewards holds each agent's share of the group reward.
	Rewards []float64

	// Done marks the final step of an episode.
	Done bool
}

// NumAgents returns the number of agents recorded in the step.
func (s Step) NumAgents() int {
	return len(s.Obs)
}

package coordinator

// setState publishes the coordinator's current position in the loop for
// status reporting. It is a plain observation, not a source of truth for
// any control-flow decision within Run.
func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

// State returns the coordinator's current state, safe to call
// concurrently from the status API.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

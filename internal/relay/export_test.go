package relay

// snapshotState returns the current state and buffered byte count.
func (c *connection) snapshotState() (State, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, len(c.buf)
}

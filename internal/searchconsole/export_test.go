package searchconsole

import "time"

// SetClock replaces the clock for testing purposes.
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

package ticks

import "time"

const (
	backoffBase = 1 * time.Second
	backoffMax  = 60 * time.Second
)

// backoffFor returns the reconnect delay for the given consecutive-failure
// count: base * 2^failures, capped.
func backoffFor(failures int) time.Duration {
	if failures < 0 {
		return backoffBase
	}
	if failures > 30 {
		return backoffMax
	}
	d := backoffBase * time.Duration(1<<failures)
	if d > backoffMax {
		return backoffMax
	}
	return d
}

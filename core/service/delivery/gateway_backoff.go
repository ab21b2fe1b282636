package delivery

import "time"

// backoffSchedule is the delay before each retry, indexed by the number of
// attempts already made. Attempts past the schedule reuse the final delay.
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	6 * time.Hour,
}

// BackoffDelay returns the wait before the next attempt, given how many
// attempts have completed.
func BackoffDelay(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	if attemptsMade > len(backoffSchedule) {
		attemptsMade = len(backoffSchedule)
	}
	return backoffSchedule[attemptsMade-1]
}

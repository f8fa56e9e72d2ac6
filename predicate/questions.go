package predicate

import "time"

var (
	IsOpen   = Null("off_time")
	IsClosed = NotNull("off_time")

	IsAnswering = And(NotNull("help_time"), Null("off_time"))
	// IsNotAnswering is the complement of IsAnswering; closed questions
	// satisfy it too.
	IsNotAnswering = Not(IsAnswering)

	CanFreeze = And(Null("frozen_time"), Null("off_time"))
)

// IsFrozen holds for a question parked at now: it was frozen and neither
// its end time nor its hard ceiling has passed.
func IsFrozen(now time.Time) Expr {
	return And(
		NotNull("frozen_time"),
		After("frozen_end_time", now),
		After("frozen_end_max_time", now),
	)
}

func IsNotFrozen(now time.Time) Expr {
	return Not(IsFrozen(now))
}

package queue

// Status tells the runner how to settle a message.
type Status int

const (
	// StatusSuccess acks the message.
	StatusSuccess Status = iota
	// StatusAbandon nacks the message for redelivery.
	StatusAbandon
	// StatusCancelled nacks without counting the item as failed; the work
	// was interrupted, not broken.
	StatusCancelled
	// StatusDeadLetter parks the message in the dead-letter table and acks.
	StatusDeadLetter
)

// Result is the outcome of one handler invocation.
type Result struct {
	Status Status
	Err    error
}

// Success acks.
func Success() Result {
	return Result{Status: StatusSuccess}
}

// Abandon nacks so the queue redelivers.
func Abandon(err error) Result {
	return Result{Status: StatusAbandon, Err: err}
}

// Cancelled nacks an interrupted item.
func Cancelled(err error) Result {
	return Result{Status: StatusCancelled, Err: err}
}

// DeadLetter parks the message for manual draining.
func DeadLetter(err error) Result {
	return Result{Status: StatusDeadLetter, Err: err}
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusAbandon:
		return "abandon"
	case StatusCancelled:
		return "cancelled"
	case StatusDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

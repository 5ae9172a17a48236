package schema

// SessionStatus enumerates the lifecycle states of a plan execution instance.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "RUNNING"
	SessionStatusDone    SessionStatus = "DONE"
	SessionStatusError   SessionStatus = "ERROR"
	SessionStatusAborted SessionStatus = "ABORTED"
)

// Terminal reports whether the session status is final.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusDone || s == SessionStatusError || s == SessionStatusAborted
}

// StepStatus enumerates the lifecycle states of one step execution attempt.
type StepStatus string

const (
	StepStatusWaiting StepStatus = "WAITING"
	StepStatusRunning StepStatus = "RUNNING"
	StepStatusSuccess StepStatus = "SUCCESS"
	StepStatusFailed  StepStatus = "FAILED"
	StepStatusAborted StepStatus = "ABORTED"
)

// Terminal reports whether the attempt record is final. A FAILED attempt is
// terminal as a record; a retry produces a new record with the next attempt
// number rather than reopening this one.
func (s StepStatus) Terminal() bool {
	return s == StepStatusSuccess || s == StepStatusFailed || s == StepStatusAborted
}

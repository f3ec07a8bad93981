package policy

// #region reason

// Reason explains an admission decision.
type Reason string

const (
	ReasonAlreadyAccepted       Reason = "already_accepted"
	ReasonAdmitted              Reason = "admitted"
	ReasonConflictsWithAccepted Reason = "conflicts_with_accepted"
	ReasonYieldToHigherPriority Reason = "yield_to_higher_priority"
	ReasonStopDwell             Reason = "stop_dwell"
	ReasonNotInCycle            Reason = "not_in_cycle"
	ReasonInsufficientCycleTime Reason = "insufficient_cycle_time"
)

// #endregion reason

// #region decision

// Decision is the outcome of one admission request. A rejection is not an
// error; the driver simply asks again on a later tick.
type Decision struct {
	Admitted bool
	Reason   Reason
}

func admit(r Reason) Decision  { return Decision{Admitted: true, Reason: r} }
func reject(r Reason) Decision { return Decision{Admitted: false, Reason: r} }

// #endregion decision

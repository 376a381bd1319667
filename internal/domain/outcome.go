package domain

// Outcome is the terminal code of one reconciliation.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeSyncInduced   Outcome = "sync_induced"
	OutcomeLoopPrevented Outcome = "loop_prevented"
	OutcomeMissingFields Outcome = "missing_required_fields"
	OutcomeTargetError   Outcome = "target_error"
	OutcomeStoreError    Outcome = "store_error"
)

// Result is what Reconcile returns to the transport tier. OK is true for
// every non-error terminal outcome; duplicates and loop signals are not
// errors.
type Result struct {
	OK      bool
	Outcome Outcome
	Reason  string
}

// ResultOK builds a non-error terminal result.
func ResultOK(outcome Outcome, reason string) Result {
	return Result{OK: true, Outcome: outcome, Reason: reason}
}

// ResultErr builds an error terminal result.
func ResultErr(outcome Outcome, reason string) Result {
	return Result{OK: false, Outcome: outcome, Reason: reason}
}

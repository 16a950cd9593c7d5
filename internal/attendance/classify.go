package attendance

// EarlyThresholdMinutes is how far before the scheduled entry a scan
// counts as early. It is fixed and does not follow the schedule tolerance.
const EarlyThresholdMinutes = 15

// Result is the outcome of classifying an entry scan.
type Result struct {
	Status      Status `json:"status"`
	MinutesLate int    `json:"minutes_late"`
}

// Classify decides whether an entry at actual is on time, early or late
// against scheduledEntry with the given tolerance. Only hours and minutes
// take part in the comparison. There is no midnight wraparound: a 23:50
// entry scanned at 00:05 yields a large negative delta.
func Classify(scheduledEntry Clock, toleranceMinutes int, actual Clock) Result {
	delta := actual.Minutes() - scheduledEntry.Minutes()

	switch {
	case delta > toleranceMinutes:
		return Result{Status: StatusLate, MinutesLate: delta - toleranceMinutes}
	case delta < -EarlyThresholdMinutes:
		return Result{Status: StatusEarly}
	default:
		return Result{Status: StatusOnTime}
	}
}

// ClassifyEvent applies Classify to entry events only. Exit events are
// recorded as on time with zero minutes late.
func ClassifyEvent(typ EventType, scheduledEntry Clock, toleranceMinutes int, actual Clock) Result {
	if typ != EventEntry {
		return Result{Status: StatusOnTime}
	}
	return Classify(scheduledEntry, toleranceMinutes, actual)
}

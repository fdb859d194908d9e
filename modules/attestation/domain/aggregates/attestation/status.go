package attestation

type Status string

const (
	StatusPending           Status = "pending"
	StatusApprovedImmediate Status = "approved_immediate"
	StatusApprovedMediate   Status = "approved_mediate"
	StatusRejected          Status = "rejected"
	StatusCompleted         Status = "completed"
)

var transitions = map[Status][]Status{
	StatusPending:           {StatusApprovedImmediate, StatusRejected},
	StatusApprovedImmediate: {StatusApprovedMediate, StatusRejected, StatusCompleted},
	StatusApprovedMediate:   {StatusCompleted},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApprovedImmediate, StatusApprovedMediate, StatusRejected, StatusCompleted:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

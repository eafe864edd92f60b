package enums

import "fmt"

// CandidateStatus is the per-agent response lifecycle within one order.
type CandidateStatus string

const (
	CandidateWaiting    CandidateStatus = "waiting"
	CandidateQueued     CandidateStatus = "queued"
	CandidateSent       CandidateStatus = "sent"
	CandidatePending    CandidateStatus = "pending"
	CandidateAccepted   CandidateStatus = "accepted"
	CandidateRejected   CandidateStatus = "rejected"
	CandidateTimedOut   CandidateStatus = "timed_out"
	CandidateSuperseded CandidateStatus = "superseded"
)

var validCandidateStatuses = []CandidateStatus{
	CandidateWaiting,
	CandidateQueued,
	CandidateSent,
	CandidatePending,
	CandidateAccepted,
	CandidateRejected,
	CandidateTimedOut,
	CandidateSuperseded,
}

// OutstandingCandidateStatuses are the states that await an agent response.
var OutstandingCandidateStatuses = []CandidateStatus{CandidateSent, CandidatePending}

// WaitingCandidateStatuses are the states eligible for promotion by a cascade.
var WaitingCandidateStatuses = []CandidateStatus{CandidateQueued, CandidateWaiting}

func (s CandidateStatus) String() string {
	return string(s)
}

func (s CandidateStatus) IsValid() bool {
	for _, candidate := range validCandidateStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (s CandidateStatus) IsOutstanding() bool {
	return s == CandidateSent || s == CandidatePending
}

func (s CandidateStatus) IsWaiting() bool {
	return s == CandidateQueued || s == CandidateWaiting
}

// IsResolved reports whether the candidate left the pipeline for good.
func (s CandidateStatus) IsResolved() bool {
	switch s {
	case CandidateAccepted, CandidateRejected, CandidateTimedOut, CandidateSuperseded:
		return true
	default:
		return false
	}
}

func ParseCandidateStatus(value string) (CandidateStatus, error) {
	for _, candidate := range validCandidateStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid candidate status %q", value)
}

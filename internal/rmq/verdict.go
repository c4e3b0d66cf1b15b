package rmq

import "fmt"

// Verdict is the business outcome for one delivery. It decides how the
// delivery is acknowledged to the broker.
type Verdict int

const (
	// Accept acknowledges the delivery.
	Accept Verdict = iota
	// RejectDiscard negatively acknowledges the delivery without requeue; the
	// broker drops or dead-letters it.
	RejectDiscard
	// RejectRequeue negatively acknowledges the delivery and asks the broker to
	// make it available for redelivery.
	RejectRequeue
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case RejectDiscard:
		return "reject_discard"
	case RejectRequeue:
		return "reject_requeue"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	return v >= Accept && v <= RejectRequeue
}

package rmq

import "errors"

var (
	// ErrUnrecoverable marks failures the consume loop must not limp past:
	// subscription registration, acknowledgment calls and setup failures that
	// are not caused by cancellation.
	ErrUnrecoverable = errors.New("unrecoverable consumer failure")

	// ErrSubscriptionClosed is returned by a subscription once its delivery
	// stream has terminated. The channel behind it is no longer usable.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

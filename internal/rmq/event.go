package rmq

// Event is the JSON body the producer publishes and the receipt handler reads.
type Event struct {
	// Type identifies the kind of event (e.g., "order.created", "user.updated")
	Type string `json:"type"`
	// Payload contains the event data, can be any JSON-serializable structure
	Payload any `json:"payload"`
}

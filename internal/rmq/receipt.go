package rmq

import (
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"rmq/internal/couchbase"
)

// Receipt records that a message was processed, so redeliveries of the same
// message id can be recognised.
type Receipt struct {
	ID          string    `json:"id"`
	Queue       string    `json:"queue"`
	MessageID   string    `json:"messageId"`
	EventType   string    `json:"eventType"`
	DeliveryTag uint64    `json:"deliveryTag"`
	Redelivered bool      `json:"redelivered"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

func NewReceiptsStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string, ttl time.Duration) (*couchbase.Store[Receipt], error) {
	collection := bucket.Scope(scope).Collection("receipts")
	store, err := couchbase.NewStore[Receipt](cluster, collection, ttl)
	if err != nil {
		return nil, err
	}

	return store, nil
}

func ReceiptKey(queue, messageID string) string {
	return fmt.Sprintf("receipt::%s::%s", queue, messageID)
}

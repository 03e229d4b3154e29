package models

// QueueMessage is one delivery from the work queue. ReceiveCount starts at 1
// and grows each time the message becomes visible again.
type QueueMessage struct {
	ID           string
	Body         []byte
	ReceiveCount int
}

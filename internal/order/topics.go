package order

const (
	// All lifecycle events share one topic; partitioning by order id keeps
	// each order's events in sequence for consumers.
	TopicOrderEvents = "order.events"
)

// Partition key = order_id, so all events for one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
)

// PartitionKey is the order number, so every event of one order keeps its order.
func PartitionKey(number string) []byte { return []byte(number) }

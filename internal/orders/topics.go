package orders

const TopicOrderPlaced = "order.placed"

// Partition key = order number, so every event of one order keeps its order.
func PartitionKey(orderNumber string) []byte { return []byte(orderNumber) }

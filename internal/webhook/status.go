package webhook

import "github.com/memohai/wagate/internal/message"

// CanTransition reports whether a delivery status update from current to next
// is forward progress. An empty current accepts anything. failed is terminal,
// and a late failure never overwrites a known delivery.
func CanTransition(current, next message.Status) bool {
	if current == "" {
		_, ok := message.ParseDeliveryStatus(string(next))
		return ok
	}
	if current == next || current == message.StatusFailed {
		return false
	}
	switch next {
	case message.StatusRead:
		return true
	case message.StatusDelivered:
		return current != message.StatusRead
	case message.StatusSent:
		return current != message.StatusDelivered && current != message.StatusRead
	case message.StatusQueued:
		return current != message.StatusSent && current != message.StatusDelivered && current != message.StatusRead
	case message.StatusFailed:
		return current != message.StatusDelivered && current != message.StatusRead
	default:
		return false
	}
}

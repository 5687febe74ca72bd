package types

import "fmt"

// MessageType identifies a broker control/data frame.
type MessageType uint8

const (
	MessageData MessageType = iota + 1
	MessageAck
	MessageReset
	MessageReady
	MessageSubscribe
)

func (t MessageType) String() string {
	switch t {
	case MessageData:
		return "DATA"
	case MessageAck:
		return "ACK"
	case MessageReset:
		return "RESET"
	case MessageReady:
		return "READY"
	case MessageSubscribe:
		return "SUBSCRIBE"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// BrokerMessage is one frame on the broker connection. DATA frames carry a
// JSON-encoded batch of records; control frames carry the broker-assigned
// message id that the matching ACK must echo back.
type BrokerMessage struct {
	Type      MessageType
	MessageID uint64
	Payload   []byte
}

// NewAck builds the acknowledgement for a RESET or READY control message.
func NewAck(original BrokerMessage) BrokerMessage {
	return BrokerMessage{
		Type:      MessageAck,
		MessageID: original.MessageID,
	}
}

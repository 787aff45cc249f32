// Package event defines the wire schema of the platform events the feed
// pipeline consumes. Payloads are protobuf binary; the messages are small and
// stable, so the codec is maintained by hand over protowire instead of
// generated code.
package event

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// HeaderType is the bus header carrying the topic-user event kind.
const HeaderType = "ce_type"

// Type is the lifecycle kind of a topic-user event.
type Type string

const (
	TypeCreated Type = "Created"
	TypeUpdated Type = "Updated"
	TypeDeleted Type = "Deleted"
)

// ErrUnknownEventType reports a ce_type header outside the known set.
var ErrUnknownEventType = errors.New("unknown event type")

// ParseType validates a ce_type header value.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeCreated, TypeUpdated, TypeDeleted:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
}

// Message is a message-published event.
//
//	message Message {
//	  string message_id = 1;
//	  repeated string topic_ids = 2;
//	}
type Message struct {
	MessageID string
	TopicIDs  []string
}

// Marshal appends the protobuf encoding of m to nil.
func (m *Message) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.MessageID)
	for _, id := range m.TopicIDs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, id)
	}
	return b
}

// Unmarshal decodes a Message from protobuf bytes. Unknown fields are
// skipped so producers can grow the schema.
func (m *Message) Unmarshal(data []byte) error {
	*m = Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("decode message event tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("decode message_id: %w", protowire.ParseError(n))
			}
			m.MessageID = v
			data = data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("decode topic_ids: %w", protowire.ParseError(n))
			}
			m.TopicIDs = append(m.TopicIDs, v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// TopicUser is a topic membership lifecycle event. The kind (created,
// updated, deleted) travels in the ce_type header, not the payload.
//
//	message TopicUser {
//	  string topic_user_id = 1;
//	  string topic_id = 2;
//	  string user_id = 3;
//	}
type TopicUser struct {
	TopicUserID string
	TopicID     string
	UserID      string
}

// Marshal appends the protobuf encoding of tu to nil.
func (tu *TopicUser) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, tu.TopicUserID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, tu.TopicID)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, tu.UserID)
	return b
}

// Unmarshal decodes a TopicUser from protobuf bytes.
func (tu *TopicUser) Unmarshal(data []byte) error {
	*tu = TopicUser{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("decode topic-user event tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType || num > 3 {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		v, vn := protowire.ConsumeString(data)
		if vn < 0 {
			return fmt.Errorf("decode field %d: %w", num, protowire.ParseError(vn))
		}
		switch num {
		case 1:
			tu.TopicUserID = v
		case 2:
			tu.TopicID = v
		case 3:
			tu.UserID = v
		}
		data = data[vn:]
	}
	return nil
}

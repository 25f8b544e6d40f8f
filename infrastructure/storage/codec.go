package storage

import (
	"fmt"
	"time"

	"chat-sync/domain/chat"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Records are stored as protobuf wire messages. Field numbers are part of the
// on-disk format and must never be reused.
const (
	messageID             protowire.Number = 1
	messageRoom           protowire.Number = 2
	messageSenderID       protowire.Number = 3
	messageSenderName     protowire.Number = 4
	messageContent        protowire.Number = 5
	messageCreatedAt      protowire.Number = 6
	messageEditedAt       protowire.Number = 7
	messageIdempotencyKey protowire.Number = 8
)

const (
	roomID        protowire.Number = 1
	roomKind      protowire.Number = 2
	roomName      protowire.Number = 3
	roomLocked    protowire.Number = 4
	roomCreatedAt protowire.Number = 5
	roomDeletedAt protowire.Number = 6
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(t.UnixNano()))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func marshalMessage(m chat.Message) []byte {
	var b []byte
	b = appendString(b, messageID, m.ID.String())
	b = appendString(b, messageRoom, string(m.Room))
	b = appendString(b, messageSenderID, m.SenderID)
	b = appendString(b, messageSenderName, m.SenderDisplayName)
	b = appendString(b, messageContent, m.Content)
	b = appendTime(b, messageCreatedAt, m.CreatedAt)
	if m.EditedAt != nil {
		b = appendTime(b, messageEditedAt, *m.EditedAt)
	}
	b = appendString(b, messageIdempotencyKey, m.IdempotencyKey)
	return b
}

func unmarshalMessage(b []byte) (chat.Message, error) {
	var m chat.Message
	err := walkFields(b, func(num protowire.Number, str string, varint uint64) error {
		switch num {
		case messageID:
			id, err := uuid.Parse(str)
			if err != nil {
				return err
			}
			m.ID = id
		case messageRoom:
			m.Room = chat.RoomID(str)
		case messageSenderID:
			m.SenderID = str
		case messageSenderName:
			m.SenderDisplayName = str
		case messageContent:
			m.Content = str
		case messageCreatedAt:
			m.CreatedAt = decodeTime(varint)
		case messageEditedAt:
			at := decodeTime(varint)
			m.EditedAt = &at
		case messageIdempotencyKey:
			m.IdempotencyKey = str
		}
		return nil
	})
	return m, err
}

func marshalRoom(r chat.Room) []byte {
	var b []byte
	b = appendString(b, roomID, string(r.ID))
	b = appendString(b, roomKind, string(r.Kind))
	b = appendString(b, roomName, r.Name)
	b = appendBool(b, roomLocked, r.Locked)
	b = appendTime(b, roomCreatedAt, r.CreatedAt)
	if r.DeletedAt != nil {
		b = appendTime(b, roomDeletedAt, *r.DeletedAt)
	}
	return b
}

func unmarshalRoom(b []byte) (chat.Room, error) {
	var r chat.Room
	err := walkFields(b, func(num protowire.Number, str string, varint uint64) error {
		switch num {
		case roomID:
			r.ID = chat.RoomID(str)
		case roomKind:
			r.Kind = chat.RoomKind(str)
		case roomName:
			r.Name = str
		case roomLocked:
			r.Locked = protowire.DecodeBool(varint)
		case roomCreatedAt:
			r.CreatedAt = decodeTime(varint)
		case roomDeletedAt:
			at := decodeTime(varint)
			r.DeletedAt = &at
		}
		return nil
	})
	return r, err
}

func decodeTime(v uint64) time.Time {
	return time.Unix(0, protowire.DecodeZigZag(v)).UTC()
}

// walkFields visits every varint and length-delimited field; unknown wire types are skipped.
func walkFields(b []byte, visit func(num protowire.Number, str string, varint uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("corrupted record: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("corrupted record field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := visit(num, "", v); err != nil {
				return err
			}
		case protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("corrupted record field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := visit(num, s, 0); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("corrupted record field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

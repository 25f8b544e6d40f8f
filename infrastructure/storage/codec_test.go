package storage

import (
	"testing"
	"time"

	"chat-sync/domain/chat"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestUnmarshalMessage_SkipsUnknownFields(t *testing.T) {
	req := require.New(t)
	m := chat.Message{ID: uuid.New(), Room: "r1", SenderID: "a", Content: "hi", CreatedAt: time.Unix(0, 42).UTC()}

	// Given a record written by a newer version with an extra fixed64 field
	b := marshalMessage(m)
	b = protowire.AppendTag(b, 99, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 7)

	decoded, err := unmarshalMessage(b)
	req.NoError(err)
	req.Equal(m, decoded)
}

func TestUnmarshalMessage_Corrupted(t *testing.T) {
	_, err := unmarshalMessage([]byte{0x0a, 0xff})
	require.Error(t, err)
}

//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_client.go -package=mocks
package client

import (
	"context"

	"chat-sync/domain/chat"
)

// Appender sends a message write to the server.
type Appender interface {
	Append(ctx context.Context, cmd chat.AppendCommand) (chat.Message, error)
}

// Lister reads the committed history of a room after a cursor.
type Lister interface {
	ListSince(ctx context.Context, cmd chat.ListCommand) ([]chat.Message, chat.Cursor, error)
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"chat-sync/domain/chat"
	"chat-sync/errors"
)

type createRoomRequest struct {
	Name string `json:"name" validate:"required"`
}

type updateRoomRequest struct {
	Name   *string `json:"name,omitempty" validate:"omitempty,min=1"`
	Locked *bool   `json:"locked,omitempty"`
}

type appendMessageRequest struct {
	Content        string `json:"content" validate:"required"`
	IdempotencyKey string `json:"idempotencyKey" validate:"max=128"`
}

type updateMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

type messagesResponse struct {
	Messages []chat.Message `json:"messages"`
	Cursor   chat.Cursor    `json:"cursor"`
}

// decode reads a JSON body and validates it. Any failure is an ErrValidation.
func (s *ChatServer) decode(r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed body: %s", errors.ErrValidation, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrValidation, err)
	}
	return nil
}

package server

import (
	"fmt"
	"net/http"

	"chat-sync/auth"
	"chat-sync/domain/chat"
	"chat-sync/errors"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/samber/lo"
)

func roomID(r *http.Request) chat.RoomID {
	return chat.RoomID(mux.Vars(r)["id"])
}

func messageID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed message id", errors.ErrValidation)
	}
	return id, nil
}

func actor(r *http.Request) chat.Actor {
	a, _ := auth.ActorFromContext(r.Context())
	return a
}

func (s *ChatServer) createRoom(w http.ResponseWriter, r *http.Request) {
	var body createRoomRequest
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	room, err := s.chatService.CreateRoom(r.Context(), actor(r), body.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, room)
}

func (s *ChatServer) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.chatService.GetRoom(r.Context(), roomID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, room)
}

func (s *ChatServer) updateRoom(w http.ResponseWriter, r *http.Request) {
	var body updateRoomRequest
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	room, err := s.chatService.UpdateRoom(r.Context(), actor(r), roomID(r), chat.RoomPatch{Name: body.Name, Locked: body.Locked})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, room)
}

func (s *ChatServer) deleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := s.chatService.DeleteRoom(r.Context(), actor(r), roomID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatServer) listMessages(w http.ResponseWriter, r *http.Request) {
	cmd := chat.ListCommand{Room: roomID(r), Cursor: chat.Cursor(r.URL.Query().Get("since"))}
	messages, cursor, err := s.chatService.ListSince(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messagesResponse{
		Messages: lo.Ternary(messages == nil, []chat.Message{}, messages),
		Cursor:   cursor,
	})
}

func (s *ChatServer) appendMessage(w http.ResponseWriter, r *http.Request) {
	var body appendMessageRequest
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	message, err := s.chatService.Append(r.Context(), actor(r), chat.AppendCommand{
		Room:           roomID(r),
		Content:        body.Content,
		IdempotencyKey: body.IdempotencyKey,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, message)
}

func (s *ChatServer) updateMessage(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body updateMessageRequest
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	message, err := s.chatService.Update(r.Context(), actor(r), chat.UpdateCommand{MessageID: id, Content: body.Content})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, message)
}

func (s *ChatServer) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.chatService.Delete(r.Context(), actor(r), chat.DeleteCommand{MessageID: id}); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatServer) setTyping(w http.ResponseWriter, r *http.Request) {
	var body typingRequest
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.chatService.SetTyping(r.Context(), actor(r), roomID(r), body.Typing); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

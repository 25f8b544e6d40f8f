package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"chat-sync/errors"

	"github.com/gorilla/websocket"
)

// CloseResyncRequired tells a stream client it missed events and must reload from its cursor.
const CloseResyncRequired = 4000

const maxFrameSize = 512

// streamEvents pushes the ordered change stream of a room over a websocket.
// The subscription is taken before the upgrade so unknown rooms get a plain 404.
func (s *ChatServer) streamEvents(w http.ResponseWriter, r *http.Request) {
	sub, err := s.chatService.JoinRoom(r.Context(), roomID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer s.chatService.LeaveRoom(sub)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Websocket upgrade failed", "room", sub.Room, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.readPump(conn, cancel, nil)
	go s.pingLoop(ctx, conn)

	s.log.Debug("Events stream opened", "room", sub.Room, "subscription", sub.ID, "user", actor(r).UserID)
	for {
		change, err := sub.Next(ctx)
		if err != nil {
			if stderrors.Is(err, errors.ErrTransportLost) {
				s.closeStream(conn, CloseResyncRequired, err.Error())
			}
			return
		}
		if err := s.writeFrame(conn, change); err != nil {
			s.log.Debug("Unable to push event", "room", sub.Room, "error", err)
			return
		}
	}
}

// streamPresence pushes typing transitions and accepts {"typing": bool} frames from the client.
func (s *ChatServer) streamPresence(w http.ResponseWriter, r *http.Request) {
	room := roomID(r)
	sub, err := s.chatService.WatchPresence(r.Context(), room)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer s.chatService.StopWatchingPresence(sub)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Websocket upgrade failed", "room", room, "error", err)
		return
	}
	defer conn.Close()

	who := actor(r)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.readPump(conn, cancel, func(payload []byte) {
		var body typingRequest
		if err := json.Unmarshal(payload, &body); err != nil {
			s.log.Debug("Ignoring malformed presence frame", "room", room, "error", err)
			return
		}
		if !s.limiter.Allow(who.UserID) {
			return
		}
		if err := s.chatService.SetTyping(ctx, who, room, body.Typing); err != nil {
			s.log.Debug("Unable to set typing", "room", room, "error", err)
		}
	})
	go s.pingLoop(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-sub.Events():
			if !ok {
				s.closeStream(conn, CloseResyncRequired, errors.ErrTransportLost.Error())
				return
			}
			if err := s.writeFrame(conn, change); err != nil {
				s.log.Debug("Unable to push presence", "room", room, "error", err)
				return
			}
		}
	}
}

func (s *ChatServer) writeFrame(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.options.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

// readPump drains client frames so control messages get processed, and
// cancels the stream as soon as the peer goes away.
func (s *ChatServer) readPump(conn *websocket.Conn, cancel context.CancelFunc, onMessage func([]byte)) {
	defer cancel()
	pongWait := s.options.PingInterval * 10 / 9
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if onMessage != nil {
			onMessage(payload)
		}
	}
}

func (s *ChatServer) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.options.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.options.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *ChatServer) closeStream(conn *websocket.Conn, code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(s.options.WriteTimeout)); err != nil {
		s.log.Debug("Unable to send close frame", "error", err)
	}
}


package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	_ Appender = (*HTTPClient)(nil)
	_ Lister   = (*HTTPClient)(nil)
	_ Streamer = (*HTTPClient)(nil)
)

// HTTPClient talks to the chat server REST API and its websocket streams.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		dialer:  websocket.DefaultDialer,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type messagesBody struct {
	Messages []chat.Message `json:"messages"`
	Cursor   chat.Cursor    `json:"cursor"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		var e errorBody
		_ = json.NewDecoder(response.Body).Decode(&e)
		return errors.FromHTTPStatus(response.StatusCode, e.Error)
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func roomPath(room chat.RoomID) string {
	if room == "" {
		room = chat.GeneralRoomID
	}
	return "/rooms/" + url.PathEscape(string(room))
}

func (c *HTTPClient) Append(ctx context.Context, cmd chat.AppendCommand) (chat.Message, error) {
	var message chat.Message
	body := map[string]string{"content": cmd.Content, "idempotencyKey": cmd.IdempotencyKey}
	err := c.do(ctx, http.MethodPost, roomPath(cmd.Room)+"/messages", body, &message)
	return message, err
}

func (c *HTTPClient) ListSince(ctx context.Context, cmd chat.ListCommand) ([]chat.Message, chat.Cursor, error) {
	path := roomPath(cmd.Room) + "/messages"
	if !cmd.Cursor.IsZero() {
		path += "?since=" + url.QueryEscape(string(cmd.Cursor))
	}
	var page messagesBody
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, "", err
	}
	return page.Messages, page.Cursor, nil
}

func (c *HTTPClient) GetRoom(ctx context.Context, id chat.RoomID) (chat.Room, error) {
	var room chat.Room
	err := c.do(ctx, http.MethodGet, roomPath(id), nil, &room)
	return room, err
}

func (c *HTTPClient) CreateRoom(ctx context.Context, name string) (chat.Room, error) {
	var room chat.Room
	err := c.do(ctx, http.MethodPost, "/rooms", map[string]string{"name": name}, &room)
	return room, err
}

func (c *HTTPClient) UpdateRoom(ctx context.Context, id chat.RoomID, patch chat.RoomPatch) (chat.Room, error) {
	body := map[string]any{}
	if patch.Name != nil {
		body["name"] = *patch.Name
	}
	if patch.Locked != nil {
		body["locked"] = *patch.Locked
	}
	var room chat.Room
	err := c.do(ctx, http.MethodPatch, roomPath(id), body, &room)
	return room, err
}

func (c *HTTPClient) DeleteRoom(ctx context.Context, id chat.RoomID) error {
	return c.do(ctx, http.MethodDelete, roomPath(id), nil, nil)
}

func (c *HTTPClient) UpdateMessage(ctx context.Context, id uuid.UUID, content string) (chat.Message, error) {
	var message chat.Message
	err := c.do(ctx, http.MethodPatch, "/messages/"+id.String(), map[string]string{"content": content}, &message)
	return message, err
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+id.String(), nil, nil)
}

func (c *HTTPClient) SetTyping(ctx context.Context, room chat.RoomID, typing bool) error {
	return c.do(ctx, http.MethodPost, roomPath(room)+"/presence", map[string]bool{"typing": typing}, nil)
}

func (c *HTTPClient) Stream(ctx context.Context, room chat.RoomID) (EventSource, error) {
	stream, err := dial[event.Change](ctx, c, roomPath(room)+"/events")
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Presence opens the typing stream of a room.
func (c *HTTPClient) Presence(ctx context.Context, room chat.RoomID) (*WSStream[event.Presence], error) {
	return dial[event.Presence](ctx, c, roomPath(room)+"/presence")
}

func dial[T any](ctx context.Context, c *HTTPClient, path string) (*WSStream[T], error) {
	target := "ws" + strings.TrimPrefix(c.baseURL, "http") + path
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, response, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if response != nil {
			return nil, errors.FromHTTPStatus(response.StatusCode, err.Error())
		}
		return nil, err
	}
	return &WSStream[T]{conn: conn}, nil
}

// WSStream decodes JSON frames of a websocket. Any closure surfaces as ErrTransportLost.
type WSStream[T any] struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (s *WSStream[T]) Next(ctx context.Context) (T, error) {
	var frame T
	done := make(chan error, 1)
	go func() { done <- s.conn.ReadJSON(&frame) }()
	select {
	case <-ctx.Done():
		_ = s.Close()
		<-done
		var zero T
		return zero, ctx.Err()
	case err := <-done:
		if err != nil {
			var closeErr *websocket.CloseError
			if stderrors.As(err, &closeErr) {
				return frame, fmt.Errorf("%w: %s", errors.ErrTransportLost, closeErr.Text)
			}
			return frame, fmt.Errorf("%w: %v", errors.ErrTransportLost, err)
		}
		return frame, nil
	}
}

// SetTyping sends a typing frame on a presence stream.
func (s *WSStream[T]) SetTyping(typing bool) error {
	return s.conn.WriteJSON(map[string]bool{"typing": typing})
}

func (s *WSStream[T]) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

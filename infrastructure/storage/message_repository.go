package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chat-sync/contract"
	"chat-sync/domain/chat"
	cerrors "chat-sync/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

var _ contract.IMessageRepository = (*MessageRepository)(nil)

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

// NewMessageRepository builds the repository. A nil limitMessages means
// GetMessagesSince returns every message after the cursor.
func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) *MessageRepository {
	return &MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

func messagePrefix(room chat.RoomID) []byte {
	return []byte("msg:" + string(room) + ":")
}

// messageKey is formatted as "msg:{room}:{createdAt padded to 19 digits}:{uuid}" so that
// a prefix scan returns the room timeline in (createdAt, id) order.
func messageKey(m chat.Message) []byte {
	return append(messagePrefix(m.Room), []byte(m.Cursor())...)
}

func indexKey(id uuid.UUID) []byte {
	return []byte("msgid:" + id.String())
}

// idempotencyKey length-prefixes room and sender, which may contain the
// separator, so distinct (room, sender, key) triples never share a record.
func idempotencyKey(room chat.RoomID, senderID, key string) []byte {
	return []byte(fmt.Sprintf("idem:%d:%s:%d:%s:%s", len(room), room, len(senderID), senderID, key))
}

// StoreMessage writes the message, its id index and, when the message carries an
// idempotency key, the (room, sender, key) record expiring after ttl, in one transaction.
func (r *MessageRepository) StoreMessage(message chat.Message, ttl time.Duration) error {
	primary := messageKey(message)
	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(primary, marshalMessage(message)); err != nil {
			return err
		}
		if err := txn.Set(indexKey(message.ID), primary); err != nil {
			return err
		}
		if message.IdempotencyKey == "" {
			return nil
		}
		entry := badger.NewEntry(
			idempotencyKey(message.Room, message.SenderID, message.IdempotencyKey),
			[]byte(message.ID.String()))
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// ReplaceMessage overwrites an existing message in place. CreatedAt must be unchanged.
func (r *MessageRepository) ReplaceMessage(message chat.Message) error {
	return r.db.Update(func(txn *badger.Txn) error {
		primary, err := primaryKey(txn, message.ID)
		if err != nil {
			return err
		}
		return txn.Set(primary, marshalMessage(message))
	})
}

// DeleteMessage removes the message and its index so it disappears from every read.
func (r *MessageRepository) DeleteMessage(message chat.Message) error {
	return r.db.Update(func(txn *badger.Txn) error {
		primary, err := primaryKey(txn, message.ID)
		if err != nil {
			return err
		}
		if err := txn.Delete(primary); err != nil {
			return err
		}
		return txn.Delete(indexKey(message.ID))
	})
}

func (r *MessageRepository) GetMessage(id uuid.UUID) (chat.Message, error) {
	var message chat.Message
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		message, err = getMessage(txn, id)
		return err
	})
	return message, err
}

// FindByIdempotencyKey returns the message previously stored under (room, sender, key).
// A record pointing to a message deleted since then is reported as not found.
func (r *MessageRepository) FindByIdempotencyKey(roomID chat.RoomID, senderID, key string) (chat.Message, bool, error) {
	var message chat.Message
	found := false
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idempotencyKey(roomID, senderID, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id, err := uuid.ParseBytes(raw)
		if err != nil {
			return err
		}
		message, err = getMessage(txn, id)
		if errors.Is(err, cerrors.ErrNotFound) {
			r.log.Debug("Idempotency record points to a deleted message", "room", roomID, "message_id", id)
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return message, found, err
}

// GetMessagesSince scans the room timeline forward, strictly after the cursor.
// It returns the cursor of the last message read, or the given cursor when nothing is newer.
func (r *MessageRepository) GetMessagesSince(roomID chat.RoomID, cursor chat.Cursor) ([]chat.Message, chat.Cursor, error) {
	var messages []chat.Message
	next := cursor
	prefix := messagePrefix(roomID)
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), []byte(cursor)...)
		it.Seek(seekKey)
		if !cursor.IsZero() && it.ValidForPrefix(prefix) && string(it.Item().Key()) == string(seekKey) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if r.limitMessages != nil && len(messages) == *r.limitMessages {
				r.log.Debug(fmt.Sprintf("Maximum of %d message reached", *r.limitMessages))
				break
			}
			err := it.Item().Value(func(val []byte) error {
				m, err := unmarshalMessage(val)
				if err != nil {
					return err
				}
				messages = append(messages, m)
				next = m.Cursor()
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, cursor, err
	}
	return messages, next, nil
}

// LastMessage returns the newest message of the room, if any.
func (r *MessageRepository) LastMessage(roomID chat.RoomID) (chat.Message, bool, error) {
	var message chat.Message
	found := false
	prefix := messagePrefix(roomID)
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// 0xFF sorts after every digit, so the seek lands on the newest key of the room.
		it.Seek(append(append([]byte{}, prefix...), 0xFF))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		return it.Item().Value(func(val []byte) error {
			var err error
			message, err = unmarshalMessage(val)
			found = err == nil
			return err
		})
	})
	return message, found, err
}

func primaryKey(txn *badger.Txn, id uuid.UUID) ([]byte, error) {
	item, err := txn.Get(indexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: message %s", cerrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func getMessage(txn *badger.Txn, id uuid.UUID) (chat.Message, error) {
	primary, err := primaryKey(txn, id)
	if err != nil {
		return chat.Message{}, err
	}
	item, err := txn.Get(primary)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.Message{}, fmt.Errorf("%w: message %s", cerrors.ErrNotFound, id)
	}
	if err != nil {
		return chat.Message{}, err
	}
	var message chat.Message
	err = item.Value(func(val []byte) error {
		message, err = unmarshalMessage(val)
		return err
	})
	return message, err
}

package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"chat-sync/contract"
	"chat-sync/domain/chat"
	cerrors "chat-sync/errors"

	"github.com/dgraph-io/badger/v4"
)

var _ contract.IRoomRepository = (*RoomRepository)(nil)

type RoomRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewRoomRepository(db *badger.DB, log *slog.Logger) *RoomRepository {
	return &RoomRepository{db: db, log: log}
}

func roomKey(id chat.RoomID) []byte {
	return []byte("room:" + string(id))
}

// SaveRoom upserts the room record. Soft-deleted rooms are saved with DeletedAt set.
func (r *RoomRepository) SaveRoom(room chat.Room) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(roomKey(room.ID), marshalRoom(room))
	})
}

// GetRoom returns the stored room, including soft-deleted ones.
func (r *RoomRepository) GetRoom(id chat.RoomID) (chat.Room, error) {
	var room chat.Room
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: room %s", cerrors.ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			room, err = unmarshalRoom(val)
			return err
		})
	})
	return room, err
}

// ListRooms returns every stored room in key order, soft-deleted ones included.
func (r *RoomRepository) ListRooms() ([]chat.Room, error) {
	var rooms []chat.Room
	prefix := []byte("room:")
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				room, err := unmarshalRoom(val)
				if err != nil {
					return err
				}
				rooms = append(rooms, room)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return rooms, err
}

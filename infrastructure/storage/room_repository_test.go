package storage

import (
	"testing"
	"time"

	"chat-sync/domain/chat"
	cerrors "chat-sync/errors"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestRoomRepository_SaveAndGet(t *testing.T) {
	req := require.New(t)
	db, cleanup := SetupTestDB(t)
	defer cleanup()
	repo := NewRoomRepository(db, discardLogger())

	// Given a locked group room
	room := chat.NewGroupRoom("r1", "Algebra 101", time.Now().UTC())
	room.Locked = true
	req.NoError(repo.SaveRoom(room))

	// When fetching it back
	fetched, err := repo.GetRoom("r1")

	// Then every field survives the round trip
	req.NoError(err)
	req.Equal(room.ID, fetched.ID)
	req.Equal(chat.KindGroup, fetched.Kind)
	req.Equal("Algebra 101", fetched.Name)
	req.True(fetched.Locked)
	req.True(room.CreatedAt.Equal(fetched.CreatedAt))
	req.Nil(fetched.DeletedAt)
}

func TestRoomRepository_SoftDeleteIsPersisted(t *testing.T) {
	req := require.New(t)
	db, cleanup := SetupTestDB(t)
	defer cleanup()
	repo := NewRoomRepository(db, discardLogger())

	room := chat.NewGroupRoom("r1", "Physics", time.Now().UTC())
	room.DeletedAt = lo.ToPtr(time.Now().UTC())
	req.NoError(repo.SaveRoom(room))

	fetched, err := repo.GetRoom("r1")
	req.NoError(err)
	req.True(fetched.IsDeleted())
}

func TestRoomRepository_Get_Unknown(t *testing.T) {
	req := require.New(t)
	db, cleanup := SetupTestDB(t)
	defer cleanup()
	repo := NewRoomRepository(db, discardLogger())

	_, err := repo.GetRoom("missing")
	req.ErrorIs(err, cerrors.ErrNotFound)
}

func TestRoomRepository_ListRooms(t *testing.T) {
	req := require.New(t)
	db, cleanup := SetupTestDB(t)
	defer cleanup()
	repo := NewRoomRepository(db, discardLogger())
	now := time.Now().UTC()

	// Given the general room and a deleted group room
	req.NoError(repo.SaveRoom(chat.NewGeneralRoom(now)))
	deleted := chat.NewGroupRoom("r1", "Old", now)
	deleted.DeletedAt = lo.ToPtr(now)
	req.NoError(repo.SaveRoom(deleted))

	// When listing
	rooms, err := repo.ListRooms()

	// Then both come back in key order
	req.NoError(err)
	req.Len(rooms, 2)
	req.Equal(chat.GeneralRoomID, rooms[0].ID)
	req.True(rooms[1].IsDeleted())
}

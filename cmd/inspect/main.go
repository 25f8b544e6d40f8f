package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"chat-sync/domain/chat"
	"chat-sync/infrastructure/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
)

// inspect dumps the rooms and the timeline of one room from a badger directory,
// without taking the lock held by a running server.
func main() {
	_ = godotenv.Load()
	dbPath := flag.String("db", os.Getenv("BADGER_FILEPATH"), "Path to badger DB, defaults to BADGER_FILEPATH")
	room := flag.String("room", string(chat.GeneralRoomID), "Room whose messages are listed, empty for rooms only")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	rooms, err := storage.NewRoomRepository(db, discard).ListRooms()
	if err != nil {
		log.Fatal(err)
	}
	table := newTable([]string{"Room", "Kind", "Name", "Locked", "Created", "Deleted"})
	for _, r := range rooms {
		deleted := ""
		if r.DeletedAt != nil {
			deleted = r.DeletedAt.Format(time.DateTime)
		}
		table.Append([]string{string(r.ID), string(r.Kind), r.Name, fmt.Sprint(r.Locked), r.CreatedAt.Format(time.DateTime), deleted})
	}
	table.Render()

	if *room == "" {
		return
	}
	messages, _, err := storage.NewMessageRepository(db, discard, nil).GetMessagesSince(chat.RoomID(*room), "")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println()
	table = newTable([]string{"Created", "ID", "Sender", "Edited", "Content"})
	for _, m := range messages {
		edited := ""
		if m.EditedAt != nil {
			edited = m.EditedAt.Format(time.TimeOnly)
		}
		table.Append([]string{m.CreatedAt.Format("15:04:05.000"), m.ID.String()[:8], m.SenderID, edited, m.Content})
	}
	table.Render()
}

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil && strings.Contains(err.Error(), "Log truncate required") {
		// A crashed server leaves a value log to truncate, which needs a writable open.
		repaired, repairErr := badger.Open(badger.DefaultOptions(path).WithLogger(nil).WithBypassLockGuard(true))
		if repairErr != nil {
			return nil, fmt.Errorf("repair failed: %w", repairErr)
		}
		_ = repaired.Close()
		return badger.Open(opts)
	}
	return db, err
}

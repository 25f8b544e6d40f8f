package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cursor is an opaque position in a room timeline: "{createdAt nanos padded to 19}:{id}".
// Lexicographic order of cursors matches (CreatedAt, ID) order, which is also
// the order of the message keys in storage. The empty cursor is the beginning.
type Cursor string

func NewCursor(at time.Time, id uuid.UUID) Cursor {
	return Cursor(fmt.Sprintf("%019d:%s", at.UnixNano(), id))
}

func (c Cursor) IsZero() bool {
	return c == ""
}

// Parse validates the cursor and returns its components.
func (c Cursor) Parse() (time.Time, uuid.UUID, error) {
	ts, id, ok := strings.Cut(string(c), ":")
	if !ok || len(ts) != 19 {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor %q", c)
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor %q: %w", c, err)
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor %q: %w", c, err)
	}
	return time.Unix(0, nanos).UTC(), parsedID, nil
}

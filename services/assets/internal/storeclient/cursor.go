package storeclient

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// Cursors are opaque offsets. They are stable only while the underlying
// ordering is, which is the documented trade-off of windowed listing.

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte("o:" + strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || len(raw) < 3 || string(raw[:2]) != "o:" {
		return 0, fmt.Errorf("%w %q", ErrInvalidCursor, cursor)
	}
	n, err := strconv.Atoi(string(raw[2:]))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w %q", ErrInvalidCursor, cursor)
	}
	return n, nil
}

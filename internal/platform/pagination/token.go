package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// IsZero reports whether the cursor points nowhere.
func (c Cursor) IsZero() bool {
	return len(c.StartAfter) == 0 && len(c.StartAt) == 0
}

// EncodeToken serialises the cursor into a base64 URL-safe page token. Admin
// order listings hand these back so staff tooling can walk large result sets
// without offsets. A zero cursor yields an empty token, meaning last page.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	payload, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeToken parses a page token produced by EncodeToken. Malformed tokens
// map onto ErrInvalidPageToken so handlers return a 400 rather than a 500.
func DecodeToken(token string) (Cursor, error) {
	var cursor Cursor
	if token = strings.TrimSpace(token); token == "" {
		return cursor, nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(token)
	if err == nil {
		err = json.Unmarshal(payload, &cursor)
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}

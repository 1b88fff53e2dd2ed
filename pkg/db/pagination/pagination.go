package pagination

import (
	"encoding/base64"
	"encoding/json"
)

// Pagination is the cursor page request bound from list query strings.
type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit,default=10" validate:"gte=1,lte=250"`
}

// Cursor is the opaque position token handed back to clients. It encodes the
// creation timestamp plus the row id so ties on created_at stay stable.
type Cursor struct {
	CreatedAt string `json:"created_at,omitempty"`
	ID        string `json:"id,omitempty"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

func EncodeCursor(c Cursor) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(token string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// BuildCursorPageInfo expects the caller to have fetched limit+1 rows; the
// extra row only signals another page and is trimmed before encoding.
func BuildCursorPageInfo[T any](rows []*T, limit int32, extractCursor func(*T) string) *PageInfo {
	if len(rows) == 0 {
		return &PageInfo{}
	}

	hasMore := false
	if len(rows) > int(limit) {
		hasMore = true
		rows = rows[:limit]
	}

	return &PageInfo{
		HasMore:    hasMore,
		NextCursor: extractCursor(rows[len(rows)-1]),
	}
}

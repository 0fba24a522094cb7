// Package pagination pages newest-first listings by (created_at, id).
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var errMalformedCursor = errors.New("malformed cursor")

// Params is what a listing endpoint accepts from the client.
type Params struct {
	Limit  int
	Cursor string
}

// Size is the number of rows returned to the client.
func (p Params) Size() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	default:
		return p.Limit
	}
}

// Fetch is Size plus one extra row that tells whether another page exists.
func (p Params) Fetch() int {
	return p.Size() + 1
}

// Key is the position of the last row a client has seen.
type Key struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Encode renders k as an opaque url-safe token.
func (k Key) Encode() string {
	raw := strconv.FormatInt(k.CreatedAt.UTC().UnixNano(), 10) + "." + k.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a token produced by Key.Encode. Blank input means the first page.
func Decode(token string) (*Key, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}
	nanos, id, ok := strings.Cut(string(raw), ".")
	if !ok {
		return nil, errMalformedCursor
	}
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}
	return &Key{CreatedAt: time.Unix(0, ts).UTC(), ID: parsed}, nil
}

// Scope orders q newest first and resumes after key when one is given.
func Scope(q *gorm.DB, key *Key, fetch int) *gorm.DB {
	if key != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", key.CreatedAt, key.CreatedAt, key.ID)
	}
	return q.Order("created_at DESC").Order("id DESC").Limit(fetch)
}

// Trim cuts rows down to size and returns the token for the next page, or ""
// when rows held no extra row.
func Trim[T any](rows []T, size int, keyOf func(T) Key) ([]T, string) {
	if rows == nil {
		rows = []T{}
	}
	if len(rows) <= size {
		return rows, ""
	}
	rows = rows[:size]
	return rows, keyOf(rows[size-1]).Encode()
}

// Package item defines the unit of work stored in a queue and its stored form.
package item

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrMalformed is returned when stored item data cannot be decoded.
var ErrMalformed = errors.New("malformed item data")

// Item is a unit of work handed to producers and workers.
type Item struct {
	ID      int64           `json:"id"`
	Payload json.RawMessage `json:"payload"`
	Created time.Time       `json:"created"`
}

// New creates an item with the given id and payload, stamped with the
// current time.
func New(id int64, payload json.RawMessage) *Item {
	return &Item{
		ID:      id,
		Payload: payload,
		Created: time.Now().UTC(),
	}
}

// Key returns the id in the string form used for list members and hash fields.
func (i *Item) Key() string {
	return FormatID(i.ID)
}

// Encode returns the stored form of the item.
func (i *Item) Encode() (string, error) {
	if len(i.Payload) > 0 && !json.Valid(i.Payload) {
		return "", fmt.Errorf("encode item %d: payload is not valid JSON", i.ID)
	}
	b, err := json.Marshal(i)
	if err != nil {
		return "", fmt.Errorf("encode item %d: %w", i.ID, err)
	}
	return string(b), nil
}

// Decode parses the stored form of an item.
func Decode(data string) (*Item, error) {
	var i Item
	if err := json.Unmarshal([]byte(data), &i); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if i.ID <= 0 {
		return nil, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	return &i, nil
}

// FormatID renders an id as stored in lists and hash fields.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseID parses an id read from a list or hash field.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", s)
	}
	return id, nil
}

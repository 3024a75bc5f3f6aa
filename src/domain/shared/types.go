package shared

import (
	"errors"
	"strconv"
	"strings"
)

// ID types keep domain entities distinct. Users come from the token issuer as opaque
// strings, group ids are assigned by the storage engine.
type (
	UserID  string
	GroupID int64
)

// Validate ensures IDs are not blank.
func (id UserID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return errors.New("user id is required")
	}
	return nil
}

func (id UserID) String() string { return string(id) }

func (id GroupID) Validate() error {
	if id <= 0 {
		return errors.New("group id is required")
	}
	return nil
}

func (id GroupID) String() string { return strconv.FormatInt(int64(id), 10) }

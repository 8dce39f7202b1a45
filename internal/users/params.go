package users

import (
	"bytes"
	"encoding/json"
	"time"
)

// CreateParams carries the attributes accepted when creating a user.
// A nil Roles slice means the caller did not send a roles list at all.
type CreateParams struct {
	Status      string
	FirstName   string
	LastName    string
	DisplayName string
	Email       string
	Password    string
	Roles       []string
}

// UpdateParams carries a partial user mutation. Nil pointers mean the field
// was absent from the request and must be left untouched.
type UpdateParams struct {
	Status          *string
	FirstName       *string
	LastName        *string
	DisplayName     *string
	Email           *string
	Password        *string
	EmailVerifiedAt OptionalTime
	Roles           *[]string
}

// OptionalTime distinguishes an absent field from an explicit null in PATCH
// payloads. Set is true whenever the field appeared, even as null.
type OptionalTime struct {
	Set  bool
	Time *time.Time
}

// UnmarshalJSON records presence and accepts either null or an RFC3339
// timestamp.
func (o *OptionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Time = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	o.Time = &t
	return nil
}

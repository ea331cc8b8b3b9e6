package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Update field names accepted from clients.
const (
	FieldUsername = "username"
	FieldEmail    = "email"
	FieldPassword = "password"
	FieldIsAdmin  = "is_admin"
)

var selfServiceFields = map[string]struct{}{
	FieldUsername: {},
	FieldEmail:    {},
	FieldPassword: {},
}

var adminFields = map[string]struct{}{
	FieldUsername: {},
	FieldEmail:    {},
	FieldPassword: {},
	FieldIsAdmin:  {},
}

// Policy decides whether an authenticated actor may mutate a target account.
type Policy interface {
	CanModify(actor User, targetUsername string) bool
	CanDelete(actor User, targetUsername string) bool
	FilterUpdateFields(actor User, fields map[string]json.RawMessage) (UserUpdate, error)
}

// DefaultPolicy allows users to edit themselves and administrators to do anything.
type DefaultPolicy struct{}

var _ Policy = DefaultPolicy{}

// CanModify reports whether actor is an administrator or the target itself.
func (DefaultPolicy) CanModify(actor User, targetUsername string) bool {
	return actor.IsAdmin || actor.Username == targetUsername
}

// CanDelete reports whether actor may delete accounts. Only administrators can.
func (DefaultPolicy) CanDelete(actor User, _ string) bool {
	return actor.IsAdmin
}

// FilterUpdateFields converts the requested fields into an update. Non-administrators
// sending anything outside username, email and password are refused outright with
// ErrForbidden; nothing is dropped silently.
func (DefaultPolicy) FilterUpdateFields(actor User, fields map[string]json.RawMessage) (UserUpdate, error) {
	if len(fields) == 0 {
		return UserUpdate{}, fmt.Errorf("%w: no fields to update", ErrInvalidInput)
	}
	allowed := selfServiceFields
	if actor.IsAdmin {
		allowed = adminFields
	}
	var rejected []string
	for key := range fields {
		if _, ok := allowed[key]; !ok {
			rejected = append(rejected, key)
		}
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		if actor.IsAdmin {
			return UserUpdate{}, fmt.Errorf("%w: unknown fields %s", ErrInvalidInput, strings.Join(rejected, ", "))
		}
		return UserUpdate{}, fmt.Errorf("%w: fields not allowed: %s", ErrForbidden, strings.Join(rejected, ", "))
	}

	var upd UserUpdate
	for key, raw := range fields {
		var err error
		switch key {
		case FieldUsername:
			upd.Username, err = decodeField[string](key, raw)
		case FieldEmail:
			upd.Email, err = decodeField[string](key, raw)
		case FieldPassword:
			upd.Password, err = decodeField[string](key, raw)
		case FieldIsAdmin:
			upd.IsAdmin, err = decodeField[bool](key, raw)
		}
		if err != nil {
			return UserUpdate{}, err
		}
	}
	return upd, nil
}

func decodeField[T any](key string, raw json.RawMessage) (*T, error) {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: field %s must not be null", ErrInvalidInput, key)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: field %s has the wrong type", ErrInvalidInput, key)
	}
	return &v, nil
}

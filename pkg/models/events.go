package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType represents the type of domain event.
type EventType string

const (
	EventUserCreated EventType = "user.created"
)

// UserCreatedEvent is the wire payload announcing a new user account.
// The schema is flat and carries no version tag.
type UserCreatedEvent struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

var ErrMissingUserID = errors.New("user event has no id")

// NewUserCreatedEvent captures the public fields of a freshly created user.
func NewUserCreatedEvent(u User) UserCreatedEvent {
	return UserCreatedEvent{ID: u.ID, Username: u.Username, Email: u.Email}
}

// Encode serializes the event to its UTF-8 JSON wire form.
func (e UserCreatedEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeUserCreatedEvent parses a wire payload. Field names match
// case-insensitively, so payloads written as {"Id": ...} are accepted too.
func DecodeUserCreatedEvent(body []byte) (UserCreatedEvent, error) {
	var event UserCreatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return UserCreatedEvent{}, fmt.Errorf("decode user event: %w", err)
	}
	if event.ID == "" {
		return UserCreatedEvent{}, ErrMissingUserID
	}
	return event, nil
}

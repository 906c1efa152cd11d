package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEventTypeConstants(t *testing.T) {
	if string(EventUserCreated) != "user.created" {
		t.Errorf("expected %q, got %q", "user.created", string(EventUserCreated))
	}
}

func TestUserCreatedEventEncode(t *testing.T) {
	event := UserCreatedEvent{ID: "u1", Username: "alice", Email: "a@x.com"}

	data, err := event.Encode()
	if err != nil {
		t.Fatalf("failed to encode event: %v", err)
	}

	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("payload is not a JSON object: %v", err)
	}
	want := map[string]string{"id": "u1", "username": "alice", "email": "a@x.com"}
	if len(fields) != len(want) {
		t.Fatalf("expected %d fields, got %d: %s", len(want), len(fields), data)
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s: expected %q, got %q", k, v, fields[k])
		}
	}
}

func TestDecodeUserCreatedEvent(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    UserCreatedEvent
		wantErr bool
	}{
		{
			name: "lowercase fields",
			body: `{"id":"u1","username":"alice","email":"a@x.com"}`,
			want: UserCreatedEvent{ID: "u1", Username: "alice", Email: "a@x.com"},
		},
		{
			name: "pascal case fields",
			body: `{"Id":"u2","Username":"bob","Email":"b@x.com"}`,
			want: UserCreatedEvent{ID: "u2", Username: "bob", Email: "b@x.com"},
		},
		{
			name: "unknown fields ignored",
			body: `{"id":"u3","username":"carol","email":"c@x.com","role":"admin"}`,
			want: UserCreatedEvent{ID: "u3", Username: "carol", Email: "c@x.com"},
		},
		{name: "invalid json", body: `{invalid json`, wantErr: true},
		{name: "missing id", body: `{"username":"dave"}`, wantErr: true},
		{name: "not an object", body: `[1,2,3]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeUserCreatedEvent([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDecodeMissingIDIsSentinel(t *testing.T) {
	_, err := DecodeUserCreatedEvent([]byte(`{"username":"x"}`))
	if !errors.Is(err, ErrMissingUserID) {
		t.Errorf("expected ErrMissingUserID, got %v", err)
	}
}

func TestNewUserCreatedEvent(t *testing.T) {
	u := User{ID: "u9", Username: "zed", Email: "z@x.com", PasswordHash: "secret"}
	event := NewUserCreatedEvent(u)
	if event != (UserCreatedEvent{ID: "u9", Username: "zed", Email: "z@x.com"}) {
		t.Errorf("unexpected event: %+v", event)
	}
}

package models

import "time"

// Employee is the record employee-service derives from a user account.
type Employee struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Position  string    `json:"position" db:"position"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

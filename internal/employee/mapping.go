package employee

import (
	"time"

	"usersync/pkg/models"
)

// DefaultPosition is assigned to every employee created from a user event.
const DefaultPosition = "New Employee"

// NewEmployeeFromEvent derives the employee record for a new user. id is the
// employee's own identifier and is never the user id.
func NewEmployeeFromEvent(event models.UserCreatedEvent, id string) models.Employee {
	return models.Employee{
		ID:        id,
		UserID:    event.ID,
		Name:      event.Username,
		Email:     event.Email,
		Position:  DefaultPosition,
		CreatedAt: time.Now().UTC(),
	}
}

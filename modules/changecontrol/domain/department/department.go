package department

import (
	"time"

	"github.com/google/uuid"
)

// Department groups users and owns change control requests raised by its
// members. The head reference drives the department-head approval gate.
type Department struct {
	ID        uuid.UUID  `json:"id"`
	Code      string     `json:"code"`
	Name      string     `json:"name"`
	HeadID    *uuid.UUID `json:"head_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (d *Department) HasHead() bool {
	return d.HeadID != nil && *d.HeadID != uuid.Nil
}

func (d *Department) IsHead(userID uuid.UUID) bool {
	return d.HasHead() && *d.HeadID == userID
}

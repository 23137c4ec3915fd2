package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Instance is one physical copy of a catalogued book.
type Instance struct {
	ID            uuid.UUID `json:"id" db:"id"`
	BookID        uuid.UUID `json:"book_id" db:"book_id"`
	InventoryCode string    `json:"inventory_code" db:"inventory_code"`
	Status        Status    `json:"status" db:"status"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

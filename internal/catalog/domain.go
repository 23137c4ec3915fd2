package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Book is a catalogued title. Physical copies are inventory.Instance rows.
type Book struct {
	ID            uuid.UUID      `json:"id"`
	Title         string         `json:"title"`
	ISBN          *string        `json:"isbn,omitempty"`
	PublishedYear *int           `json:"published_year,omitempty"`
	Publisher     *string        `json:"publisher,omitempty"`
	Genre         *string        `json:"genre,omitempty"`
	Authors       pq.StringArray `json:"authors"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewBook is the input of AddBook.
type NewBook struct {
	Title         string   `json:"title"`
	ISBN          *string  `json:"isbn,omitempty"`
	PublishedYear *int     `json:"published_year,omitempty"`
	Publisher     *string  `json:"publisher,omitempty"`
	Genre         *string  `json:"genre,omitempty"`
	Authors       []string `json:"authors"`
}

// SearchResult is one title matched by SearchCatalog.
type SearchResult struct {
	BookID  uuid.UUID      `json:"book_id"`
	Title   string         `json:"title"`
	Authors pq.StringArray `json:"authors"`
}

// EventInstanceCataloged opens the journal of every new instance.
const EventInstanceCataloged = "InstanceCataloged"

// InstanceCatalogedEvent is published when a physical copy is added.
type InstanceCatalogedEvent struct {
	BookID        uuid.UUID `json:"book_id"`
	InventoryCode string    `json:"inventory_code"`
}

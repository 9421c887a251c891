package models

import "time"

// JournalStatus flags whether copies of a journal can currently be borrowed.
type JournalStatus string

// Journal availability states. Status is derived: unavailable iff
// available_quantity is zero.
const (
	JournalStatusAvailable   JournalStatus = "available"
	JournalStatusUnavailable JournalStatus = "unavailable"
)

// Journal represents one catalogued journal title and its copy counters.
// TotalQuantity and AvailableQuantity are mutated only by the loan engine
// and by capacity edits, which clamp available to not exceed total.
type Journal struct {
	ID                string        `db:"id" json:"id"`
	Name              string        `db:"name" json:"name"`
	ISSN              *string       `db:"issn" json:"issn,omitempty"`
	Category          *string       `db:"category" json:"category,omitempty"`
	Publisher         *string       `db:"publisher" json:"publisher,omitempty"`
	PublishDate       *time.Time    `db:"publish_date" json:"publish_date,omitempty"`
	IssueNumber       *string       `db:"issue_number" json:"issue_number,omitempty"`
	Description       *string       `db:"description" json:"description,omitempty"`
	TotalQuantity     int           `db:"total_quantity" json:"total_quantity"`
	AvailableQuantity int           `db:"available_quantity" json:"available_quantity"`
	Status            JournalStatus `db:"status" json:"status"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// JournalFilter captures filtering options for listing journals.
type JournalFilter struct {
	Search   string
	Category string
	ISSN     string
	Status   JournalStatus
	PageRequest
}

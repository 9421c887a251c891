package models

import "time"

// LoanStatus is the lifecycle state of a loan record.
type LoanStatus string

// Loan lifecycle states. Borrowed transitions to Returned (terminal) via
// return, or to Overdue via an administrative override; Overdue may still
// transition to Returned.
const (
	LoanStatusBorrowed LoanStatus = "borrowed"
	LoanStatusReturned LoanStatus = "returned"
	LoanStatusOverdue  LoanStatus = "overdue"
)

// Valid reports whether the value is one of the closed set of states.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusBorrowed, LoanStatusReturned, LoanStatusOverdue:
		return true
	}
	return false
}

// Open reports whether the loan still holds a copy (anything not returned).
func (s LoanStatus) Open() bool {
	return s != LoanStatusReturned
}

// LoanRecord ties one journal copy to one teacher for a date range.
type LoanRecord struct {
	ID         string     `db:"id" json:"id"`
	JournalID  string     `db:"journal_id" json:"journal_id"`
	TeacherID  string     `db:"teacher_id" json:"teacher_id"`
	StartDate  time.Time  `db:"start_date" json:"start_date"`
	DueDate    time.Time  `db:"due_date" json:"due_date"`
	ReturnDate *time.Time `db:"return_date" json:"return_date,omitempty"`
	Status     LoanStatus `db:"status" json:"status"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// LoanDetail enriches a loan with borrower and journal display fields.
type LoanDetail struct {
	LoanRecord
	TeacherName string `db:"teacher_name" json:"teacher_name"`
	JournalName string `db:"journal_name" json:"journal_name"`
}

// LoanFilter captures filtering options for listing loans.
type LoanFilter struct {
	TeacherID string
	JournalID string
	Statuses  []LoanStatus
	// OverdueOn restricts results to loans overdue as of the given day:
	// stored overdue status unioned with borrowed-and-past-due.
	OverdueOn *time.Time
	Limit     int
	PageRequest
}

// JournalBorrowStatus summarises a journal's copy usage with open loans.
type JournalBorrowStatus struct {
	Journal   Journal      `json:"journal"`
	OpenLoans []LoanRecord `json:"open_loans"`
}

// OverdueStats is the cached reporting snapshot for overdue loans.
type OverdueStats struct {
	Total       int       `json:"total"`
	MaxLateDays int       `json:"max_late_days"`
	ComputedAt  time.Time `json:"computed_at"`
}

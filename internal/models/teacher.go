package models

import "time"

// TeacherStatus marks whether a teacher may borrow.
type TeacherStatus string

// Teacher account states.
const (
	TeacherStatusActive   TeacherStatus = "active"
	TeacherStatusInactive TeacherStatus = "inactive"
)

// DefaultMaxBorrow is the quota assigned when none is specified.
const DefaultMaxBorrow = 5

// Teacher represents a borrower. CurrentBorrow counts open loans and is
// mutated only by the loan engine.
type Teacher struct {
	ID            string        `db:"id" json:"id"`
	Name          string        `db:"name" json:"name"`
	Department    *string       `db:"department" json:"department,omitempty"`
	Email         *string       `db:"email" json:"email,omitempty"`
	Phone         *string       `db:"phone" json:"phone,omitempty"`
	MaxBorrow     int           `db:"max_borrow" json:"max_borrow"`
	CurrentBorrow int           `db:"current_borrow" json:"current_borrow"`
	Status        TeacherStatus `db:"status" json:"status"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// TeacherFilter captures filtering options for listing teachers.
type TeacherFilter struct {
	Search     string
	Department string
	Status     TeacherStatus
	PageRequest
}

// TeacherBorrowStatus summarises a teacher's quota usage with open loans.
type TeacherBorrowStatus struct {
	Teacher   Teacher      `json:"teacher"`
	OpenLoans []LoanRecord `json:"open_loans"`
	Remaining int          `json:"remaining"`
}

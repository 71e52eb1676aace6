package lending

import (
	"time"
)

// ActiveLoan is a student's open loan with its fine computed against the current time.
// Days and Fine are not persisted until the loan is returned.
type ActiveLoan struct {
	LoanID   uint      `json:"loan_id"`
	BookID   uint      `json:"book_id"`
	BookName string    `json:"book_name"`
	IssuedAt time.Time `json:"issued_at"`
	Days     int       `json:"days"`
	Fine     int64     `json:"fine"`
	Overdue  bool      `json:"overdue"`
}

// IssuedLoan is an open loan as seen by an administrator.
type IssuedLoan struct {
	LoanID      uint      `json:"loan_id"`
	StudentID   uint      `json:"student_id"`
	StudentName string    `json:"student_name"`
	Email       string    `json:"email"`
	BookID      uint      `json:"book_id"`
	BookTitle   string    `json:"book_title"`
	IssuedAt    time.Time `json:"issued_at"`
	Days        int       `json:"days"`
	Fine        int64     `json:"fine"`
	Overdue     bool      `json:"overdue"`
}

// ArchivedLoan is a closed loan across all students, as seen by an administrator.
type ArchivedLoan struct {
	LoanID      uint      `json:"loan_id"`
	StudentID   uint      `json:"student_id"`
	StudentName string    `json:"student_name"`
	BookID      uint      `json:"book_id"`
	BookName    string    `json:"book_name"`
	IssuedAt    time.Time `json:"issued_at"`
	ReturnedAt  time.Time `json:"returned_at"`
	Days        int       `json:"days"`
	Fine        int64     `json:"fine"`
}

package db

import (
	"time"

	"golang.org/x/text/cases"
	"gorm.io/gorm"
)

// Role values for User.Role
const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

// Book is a catalog title. Total counts the copies available for new loans.
// TitleKey holds the case-folded title that search matches against.
type Book struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"type:varchar(200);not null;uniqueIndex:idx_books_title" json:"title"`
	TitleKey  string    `gorm:"type:varchar(400);not null;default:'';index:idx_books_title_key" json:"-"`
	Total     int       `gorm:"not null;default:0;check:chk_books_total,total >= 0" json:"total"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// TableName specifies the table name for Book model
func (Book) TableName() string {
	return "books"
}

// BeforeCreate fills TitleKey. Titles never change after creation.
func (b *Book) BeforeCreate(tx *gorm.DB) error {
	b.TitleKey = FoldTitle(b.Title)
	return nil
}

// FoldTitle applies Unicode case folding so "Ökonomie" and "öKONOMIE" compare equal.
// SQLite's LOWER only folds ASCII, so folding happens here for both backends.
func FoldTitle(s string) string {
	return cases.Fold().String(s)
}

// Loan is one copy of a book held by a student. It is active while ReturnedAt is nil.
type Loan struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	BookID     uint       `gorm:"not null;index:idx_loans_book" json:"book_id"`
	StudentID  uint       `gorm:"not null;index:idx_loans_student" json:"student_id"`
	IssuedAt   time.Time  `gorm:"not null" json:"issued_at"`
	ReturnedAt *time.Time `json:"returned_at"`
}

// TableName specifies the table name for Loan model
func (Loan) TableName() string {
	return "loans"
}

// HistoryEntry is the archived, read-only record of a closed loan.
// BookTitle is a snapshot so entries outlive the book they reference.
type HistoryEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	LoanID     uint      `gorm:"not null;uniqueIndex:idx_history_loan" json:"loan_id"`
	StudentID  uint      `gorm:"not null" json:"student_id"`
	BookID     uint      `gorm:"not null" json:"book_id"`
	BookTitle  string    `gorm:"type:varchar(200);not null" json:"book_name"`
	IssuedAt   time.Time `gorm:"not null" json:"issued_at"`
	ReturnedAt time.Time `gorm:"not null" json:"returned_at"`
	Days       int       `gorm:"not null" json:"days"`
	Fine       int64     `gorm:"not null" json:"fine"`
}

// TableName specifies the table name for HistoryEntry model
func (HistoryEntry) TableName() string {
	return "history_entries"
}

// User is a registered account. Email is stored lower-cased.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(100);not null" json:"name"`
	Email        string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_users_email" json:"email"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	Role         string    `gorm:"type:varchar(20);not null" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}

package repo

import (
	"context"
	"errors"
	"time"

	"github.com/bookstore/services/lending/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrLoanNotFound is returned when no active loan matches
	ErrLoanNotFound = errors.New("loan not found")

	// ErrLoanAlreadyActive is returned when the (student, book) pair already has an active loan
	ErrLoanAlreadyActive = errors.New("loan already active")
)

// ActiveLoanRow is an active loan joined with its book title and borrower.
// StudentName and Email are empty when the borrower has no account record.
type ActiveLoanRow struct {
	LoanID      uint
	BookID      uint
	BookTitle   string
	StudentID   uint
	StudentName string
	Email       string
	IssuedAt    time.Time
}

// LoanRepository is the ledger of loans. It does not enforce borrowing rules;
// the lending service checks those before opening a loan.
type LoanRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewLoanRepository creates a new loan repository
func NewLoanRepository(database *db.DB, logger *zap.Logger) *LoanRepository {
	return &LoanRepository{
		db:  database,
		log: logger,
	}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *LoanRepository) WithTx(tx *db.DB) *LoanRepository {
	return &LoanRepository{db: tx, log: r.log}
}

// CountActiveLoans returns the number of active loans held by a student
func (r *LoanRepository) CountActiveLoans(ctx context.Context, studentID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.Loan{}).
		Where("student_id = ? AND returned_at IS NULL", studentID).
		Count(&count).Error
	if err != nil {
		r.log.Error("Failed to count active loans", zap.Uint("student_id", studentID), zap.Error(err))
		return 0, err
	}
	return count, nil
}

// CountActiveLoansForBook returns the number of copies of a book currently on loan
func (r *LoanRepository) CountActiveLoansForBook(ctx context.Context, bookID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.Loan{}).
		Where("book_id = ? AND returned_at IS NULL", bookID).
		Count(&count).Error
	if err != nil {
		r.log.Error("Failed to count active loans for book", zap.Uint("book_id", bookID), zap.Error(err))
		return 0, err
	}
	return count, nil
}

// CountAllActive returns the number of active loans across all students
func (r *LoanRepository) CountAllActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.Loan{}).Where("returned_at IS NULL").Count(&count).Error
	return count, err
}

// FindActiveLoan returns the active loan for a (student, book) pair
func (r *LoanRepository) FindActiveLoan(ctx context.Context, studentID, bookID uint) (*db.Loan, error) {
	var loan db.Loan
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND book_id = ? AND returned_at IS NULL", studentID, bookID).
		First(&loan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		r.log.Error("Failed to find active loan",
			zap.Uint("student_id", studentID),
			zap.Uint("book_id", bookID),
			zap.Error(err),
		)
		return nil, err
	}
	return &loan, nil
}

// OpenLoan records a new active loan issued at issuedAt
func (r *LoanRepository) OpenLoan(ctx context.Context, studentID, bookID uint, issuedAt time.Time) (*db.Loan, error) {
	loan := &db.Loan{
		BookID:    bookID,
		StudentID: studentID,
		IssuedAt:  issuedAt,
	}
	if err := r.db.WithContext(ctx).Create(loan).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrLoanAlreadyActive
		}
		r.log.Error("Failed to open loan",
			zap.Uint("student_id", studentID),
			zap.Uint("book_id", bookID),
			zap.Error(err),
		)
		return nil, err
	}
	return loan, nil
}

// CloseLoan marks an active loan as returned and returns the closed record
func (r *LoanRepository) CloseLoan(ctx context.Context, loanID uint, returnedAt time.Time) (*db.Loan, error) {
	result := r.db.WithContext(ctx).Model(&db.Loan{}).
		Where("id = ? AND returned_at IS NULL", loanID).
		Update("returned_at", returnedAt)
	if result.Error != nil {
		r.log.Error("Failed to close loan", zap.Uint("loan_id", loanID), zap.Error(result.Error))
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrLoanNotFound
	}

	var loan db.Loan
	if err := r.db.WithContext(ctx).Where("id = ?", loanID).First(&loan).Error; err != nil {
		return nil, err
	}
	return &loan, nil
}

// ListActiveLoans returns a student's active loans joined with book titles, oldest first
func (r *LoanRepository) ListActiveLoans(ctx context.Context, studentID uint) ([]ActiveLoanRow, error) {
	rows := []ActiveLoanRow{}
	err := r.activeLoans(ctx).
		Where("loans.student_id = ?", studentID).
		Scan(&rows).Error
	if err != nil {
		r.log.Error("Failed to list active loans", zap.Uint("student_id", studentID), zap.Error(err))
		return nil, err
	}
	return rows, nil
}

// ListAllActiveLoans returns every active loan joined with book and borrower, oldest first
func (r *LoanRepository) ListAllActiveLoans(ctx context.Context) ([]ActiveLoanRow, error) {
	rows := []ActiveLoanRow{}
	if err := r.activeLoans(ctx).Scan(&rows).Error; err != nil {
		r.log.Error("Failed to list all active loans", zap.Error(err))
		return nil, err
	}
	return rows, nil
}

func (r *LoanRepository) activeLoans(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table("loans").
		Select(`loans.id AS loan_id, loans.book_id AS book_id, books.title AS book_title,
			loans.student_id AS student_id, COALESCE(users.name, '') AS student_name,
			COALESCE(users.email, '') AS email, loans.issued_at AS issued_at`).
		Joins("JOIN books ON books.id = loans.book_id").
		Joins("LEFT JOIN users ON users.id = loans.student_id").
		Where("loans.returned_at IS NULL").
		Order("loans.issued_at ASC").
		Order("loans.id ASC")
}

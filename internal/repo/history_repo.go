package repo

import (
	"context"
	"time"

	"github.com/bookstore/services/lending/internal/db"
	"go.uber.org/zap"
)

// HistoryRow is an archived loan joined with the borrower's name
type HistoryRow struct {
	LoanID      uint
	StudentID   uint
	StudentName string
	BookID      uint
	BookTitle   string
	IssuedAt    time.Time
	ReturnedAt  time.Time
	Days        int
	Fine        int64
}

// HistoryRepository is the append-only archive of closed loans
type HistoryRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(database *db.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:  database,
		log: logger,
	}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *HistoryRepository) WithTx(tx *db.DB) *HistoryRepository {
	return &HistoryRepository{db: tx, log: r.log}
}

// Append archives a closed loan
func (r *HistoryRepository) Append(ctx context.Context, entry *db.HistoryEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		r.log.Error("Failed to archive loan", zap.Uint("loan_id", entry.LoanID), zap.Error(err))
		return err
	}
	return nil
}

// ListByStudent returns a student's archived loans, most recently issued first
func (r *HistoryRepository) ListByStudent(ctx context.Context, studentID uint) ([]*db.HistoryEntry, error) {
	entries := []*db.HistoryEntry{}
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("issued_at DESC").
		Order("id DESC").
		Find(&entries).Error
	if err != nil {
		r.log.Error("Failed to list history", zap.Uint("student_id", studentID), zap.Error(err))
		return nil, err
	}
	return entries, nil
}

// ListAll returns every archived loan with borrower names, most recently issued first
func (r *HistoryRepository) ListAll(ctx context.Context) ([]HistoryRow, error) {
	rows := []HistoryRow{}
	err := r.db.WithContext(ctx).Table("history_entries AS h").
		Select(`h.loan_id AS loan_id, h.student_id AS student_id, COALESCE(users.name, '') AS student_name,
			h.book_id AS book_id, h.book_title AS book_title, h.issued_at AS issued_at,
			h.returned_at AS returned_at, h.days AS days, h.fine AS fine`).
		Joins("LEFT JOIN users ON users.id = h.student_id").
		Order("h.issued_at DESC").
		Order("h.id DESC").
		Scan(&rows).Error
	if err != nil {
		r.log.Error("Failed to list all history", zap.Error(err))
		return nil, err
	}
	return rows, nil
}

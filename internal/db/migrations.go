package db

import (
	"gorm.io/gorm"
)

// RunMigrations runs all database migrations
func RunMigrations(db *DB) error {
	if err := db.AutoMigrate(&Book{}, &Loan{}, &HistoryEntry{}, &User{}); err != nil {
		return err
	}

	if err := createIndexes(db.DB); err != nil {
		return err
	}

	return backfillTitleKeys(db.DB)
}

// backfillTitleKeys folds the titles of books created before title_key existed.
func backfillTitleKeys(db *gorm.DB) error {
	var books []Book
	if err := db.Where("title_key = ''").Find(&books).Error; err != nil {
		return err
	}

	for _, book := range books {
		if err := db.Model(&Book{}).Where("id = ?", book.ID).Update("title_key", FoldTitle(book.Title)).Error; err != nil {
			return err
		}
	}

	return nil
}

// createIndexes adds the partial and composite indexes AutoMigrate cannot express.
// The statements are valid on both PostgreSQL and SQLite.
func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// At most one active loan per (student, book)
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_active_pair ON loans(student_id, book_id) WHERE returned_at IS NULL`,

		// Active-loan counts per student and per book
		`CREATE INDEX IF NOT EXISTS idx_loans_student_active ON loans(student_id) WHERE returned_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_loans_book_active ON loans(book_id) WHERE returned_at IS NULL`,

		// Student history, newest first
		`CREATE INDEX IF NOT EXISTS idx_history_student_issued ON history_entries(student_id, issued_at DESC)`,
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return err
		}
	}

	return nil
}

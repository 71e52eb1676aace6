package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/bookstore/services/lending/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrBookNotFound is returned when a book is not found
	ErrBookNotFound = errors.New("book not found")

	// ErrBookAlreadyExists is returned when a book with the same title already exists
	ErrBookAlreadyExists = errors.New("book already exists")

	// ErrInsufficientCopies is returned when an adjustment would take a book's total below zero
	ErrInsufficientCopies = errors.New("insufficient copies")
)

// CatalogRepository owns book records and their available-copy counts
type CatalogRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(database *db.DB, logger *zap.Logger) *CatalogRepository {
	return &CatalogRepository{
		db:  database,
		log: logger,
	}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *CatalogRepository) WithTx(tx *db.DB) *CatalogRepository {
	return &CatalogRepository{db: tx, log: r.log}
}

// CreateBook inserts a new book
func (r *CatalogRepository) CreateBook(ctx context.Context, book *db.Book) error {
	if err := r.db.WithContext(ctx).Create(book).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrBookAlreadyExists
		}
		r.log.Error("Failed to create book", zap.String("title", book.Title), zap.Error(err))
		return err
	}

	r.log.Info("Book created", zap.Uint("book_id", book.ID), zap.String("title", book.Title), zap.Int("total", book.Total))
	return nil
}

// GetBook retrieves a book by ID
func (r *CatalogRepository) GetBook(ctx context.Context, id uint) (*db.Book, error) {
	return r.getBook(r.db.WithContext(ctx), id)
}

// GetBookForUpdate retrieves a book and row-locks it until the surrounding
// transaction ends. SQLite ignores the lock clause; its single writer serializes instead.
func (r *CatalogRepository) GetBookForUpdate(ctx context.Context, id uint) (*db.Book, error) {
	return r.getBook(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *CatalogRepository) getBook(query *gorm.DB, id uint) (*db.Book, error) {
	var book db.Book
	if err := query.Where("id = ?", id).First(&book).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		r.log.Error("Failed to get book", zap.Uint("book_id", id), zap.Error(err))
		return nil, err
	}
	return &book, nil
}

// ListBooks returns every book ordered by title
func (r *CatalogRepository) ListBooks(ctx context.Context) ([]*db.Book, error) {
	return r.SearchBooks(ctx, "")
}

// SearchBooks returns the books whose title contains query, case-insensitively,
// ordered by title. An empty query matches every book.
func (r *CatalogRepository) SearchBooks(ctx context.Context, query string) ([]*db.Book, error) {
	q := r.db.WithContext(ctx).Model(&db.Book{})
	if query != "" {
		q = q.Where(`title_key LIKE ? ESCAPE '\'`, "%"+escapeLike(db.FoldTitle(query))+"%")
	}

	books := []*db.Book{}
	if err := q.Order("title ASC").Order("id ASC").Find(&books).Error; err != nil {
		r.log.Error("Failed to search books", zap.String("query", query), zap.Error(err))
		return nil, err
	}
	return books, nil
}

// AdjustAvailability adds delta to a book's total and returns the new total.
// It refuses to take the total below zero.
func (r *CatalogRepository) AdjustAvailability(ctx context.Context, id uint, delta int) (int, error) {
	result := r.db.WithContext(ctx).Model(&db.Book{}).
		Where("id = ? AND total + ? >= 0", id, delta).
		Update("total", gorm.Expr("total + ?", delta))
	if result.Error != nil {
		r.log.Error("Failed to adjust availability", zap.Uint("book_id", id), zap.Int("delta", delta), zap.Error(result.Error))
		return 0, result.Error
	}

	book, err := r.GetBook(ctx, id)
	if err != nil {
		return 0, err
	}
	if result.RowsAffected == 0 {
		return book.Total, ErrInsufficientCopies
	}

	return book.Total, nil
}

// DeleteBook removes a book
func (r *CatalogRepository) DeleteBook(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&db.Book{})
	if result.Error != nil {
		r.log.Error("Failed to delete book", zap.Uint("book_id", id), zap.Error(result.Error))
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrBookNotFound
	}

	r.log.Info("Book deleted", zap.Uint("book_id", id))
	return nil
}

// GetStats returns the number of titles and available copies in the catalog
func (r *CatalogRepository) GetStats(ctx context.Context) (titles, copies int64, err error) {
	var row struct {
		Titles int64
		Copies int64
	}
	err = r.db.WithContext(ctx).Model(&db.Book{}).
		Select("COUNT(*) AS titles, COALESCE(SUM(total), 0) AS copies").
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Titles, row.Copies, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Package lending orchestrates the catalog, the loan ledger and the history
// archive. It is the only place where borrowing rules are enforced.
package lending

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bookstore/services/lending/internal/apperr"
	"github.com/bookstore/services/lending/internal/clock"
	"github.com/bookstore/services/lending/internal/db"
	"github.com/bookstore/services/lending/internal/events"
	"github.com/bookstore/services/lending/internal/fines"
	"github.com/bookstore/services/lending/internal/metrics"
	"github.com/bookstore/services/lending/internal/repo"
	"go.uber.org/zap"
)

// DefaultMaxActiveLoans is the number of books a student may hold at once.
const DefaultMaxActiveLoans = 2

const publishTimeout = 10 * time.Second

// Publisher delivers domain events.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Policy holds the borrowing rules.
type Policy struct {
	MaxActiveLoans int
	Fines          fines.Policy
}

// DefaultPolicy returns a limit of DefaultMaxActiveLoans with the default fine policy.
func DefaultPolicy() Policy {
	return Policy{MaxActiveLoans: DefaultMaxActiveLoans, Fines: fines.DefaultPolicy()}
}

// Service implements the lending operations
type Service struct {
	db        *db.DB
	catalog   *repo.CatalogRepository
	loans     *repo.LoanRepository
	history   *repo.HistoryRepository
	policy    Policy
	clock     clock.Clock
	publisher Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger

	locks   *keyedMutex
	pending sync.WaitGroup
}

// NewService creates a lending service over database.
// A nil publisher discards events and nil metrics get a private registry.
func NewService(database *db.DB, policy Policy, clk clock.Clock, publisher Publisher, m *metrics.Metrics, log *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if m == nil {
		m = metrics.New()
	}
	if clk == nil {
		clk = clock.System{}
	}

	return &Service{
		db:        database,
		catalog:   repo.NewCatalogRepository(database, log),
		loans:     repo.NewLoanRepository(database, log),
		history:   repo.NewHistoryRepository(database, log),
		policy:    policy,
		clock:     clk,
		publisher: publisher,
		metrics:   m,
		log:       log,
		locks:     newKeyedMutex(),
	}
}

// Policy returns the borrowing rules in effect.
func (s *Service) Policy() Policy {
	return s.policy
}

// SyncGauges sets the active loan and catalog gauges from the database.
func (s *Service) SyncGauges(ctx context.Context) error {
	count, err := s.loans.CountAllActive(ctx)
	if err != nil {
		return fmt.Errorf("count active loans: %w", err)
	}
	s.metrics.ActiveLoans.Set(float64(count))
	return s.syncCatalogGauges(ctx)
}

func (s *Service) syncCatalogGauges(ctx context.Context) error {
	titles, copies, err := s.catalog.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("catalog stats: %w", err)
	}
	s.metrics.CatalogTitles.Set(float64(titles))
	s.metrics.CatalogCopies.Set(float64(copies))
	return nil
}

// refreshCatalog updates the catalog gauges after a committed change.
// A failure only leaves the gauges stale.
func (s *Service) refreshCatalog(ctx context.Context) {
	if err := s.syncCatalogGauges(ctx); err != nil {
		s.log.Warn("Failed to refresh catalog gauges", zap.Error(err))
	}
}

// AddBook adds a title to the catalog with total copies.
func (s *Service) AddBook(ctx context.Context, title string, total int) (*db.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, s.reject("add_book", apperr.Validation("Title is required"))
	}
	if total <= 0 {
		return nil, s.reject("add_book", apperr.Validation("Total must be greater than 0"))
	}

	book := &db.Book{Title: title, Total: total}
	if err := s.catalog.CreateBook(ctx, book); err != nil {
		if errors.Is(err, repo.ErrBookAlreadyExists) {
			return nil, s.reject("add_book", apperr.Conflict("Book already exists"))
		}
		return nil, fmt.Errorf("add book: %w", err)
	}

	s.log.Info("Book added", zap.Uint("book_id", book.ID), zap.String("title", book.Title), zap.Int("total", book.Total))
	s.refreshCatalog(ctx)
	s.emit(ctx, events.BookAdded(book.ID, book.Title, book.Total, s.clock.Now()))
	return book, nil
}

// SearchBooks returns books whose title contains query, ignoring case.
// A blank query returns every book.
func (s *Service) SearchBooks(ctx context.Context, query string) ([]*db.Book, error) {
	books, err := s.catalog.SearchBooks(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	return books, nil
}

// ListBooks returns every book ordered by title.
func (s *Service) ListBooks(ctx context.Context) ([]*db.Book, error) {
	books, err := s.catalog.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// GetBook returns one book.
func (s *Service) GetBook(ctx context.Context, bookID uint) (*db.Book, error) {
	book, err := s.catalog.GetBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, repo.ErrBookNotFound) {
			return nil, apperr.NotFound("Book not found")
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// ReduceQuantity withdraws qty copies of a book from circulation.
func (s *Service) ReduceQuantity(ctx context.Context, bookID uint, qty int) (*db.Book, error) {
	if qty <= 0 {
		return nil, s.reject("reduce_quantity", apperr.Validation("Quantity must be greater than 0"))
	}

	unlock := s.locks.lock(bookKey(bookID))
	defer unlock()

	var book *db.Book
	err := s.db.Transaction(ctx, func(tx *db.DB) error {
		catalog := s.catalog.WithTx(tx)

		current, err := catalog.GetBookForUpdate(ctx, bookID)
		if err != nil {
			if errors.Is(err, repo.ErrBookNotFound) {
				return apperr.NotFound("Book not found")
			}
			return err
		}
		if qty > current.Total {
			return apperr.Validation("Only %d copies available", current.Total)
		}

		remaining, err := catalog.AdjustAvailability(ctx, bookID, -qty)
		if err != nil {
			if errors.Is(err, repo.ErrInsufficientCopies) {
				return apperr.Validation("Only %d copies available", remaining)
			}
			return err
		}
		current.Total = remaining
		book = current
		return nil
	})
	if err != nil {
		return nil, s.fail("reduce_quantity", err)
	}

	s.log.Info("Book quantity reduced", zap.Uint("book_id", bookID), zap.Int("qty", qty), zap.Int("remaining", book.Total))
	s.refreshCatalog(ctx)
	s.emit(ctx, events.BookReduced(bookID, qty, book.Total, s.clock.Now()))
	return book, nil
}

// DeleteBook removes a book that no active loan references.
func (s *Service) DeleteBook(ctx context.Context, bookID uint) error {
	unlock := s.locks.lock(bookKey(bookID))
	defer unlock()

	err := s.db.Transaction(ctx, func(tx *db.DB) error {
		catalog := s.catalog.WithTx(tx)

		if _, err := catalog.GetBookForUpdate(ctx, bookID); err != nil {
			if errors.Is(err, repo.ErrBookNotFound) {
				return apperr.NotFound("Book not found")
			}
			return err
		}

		active, err := s.loans.WithTx(tx).CountActiveLoansForBook(ctx, bookID)
		if err != nil {
			return err
		}
		if active > 0 {
			return apperr.Conflict("Cannot delete book. It is currently issued.")
		}

		return catalog.DeleteBook(ctx, bookID)
	})
	if err != nil {
		return s.fail("delete_book", err)
	}

	s.log.Info("Book deleted", zap.Uint("book_id", bookID))
	s.refreshCatalog(ctx)
	s.emit(ctx, events.BookDeleted(bookID, s.clock.Now()))
	return nil
}

// Issue lends one copy of a book to a student.
// Rejections are checked in order: unknown book, no copies left,
// pair already on loan, student at the limit.
func (s *Service) Issue(ctx context.Context, studentID, bookID uint) (*db.Loan, error) {
	if studentID == 0 {
		return nil, s.reject("issue", apperr.Validation("user_id is required"))
	}

	unlock := s.locks.lock(bookKey(bookID), studentKey(studentID))
	defer unlock()

	now := s.clock.Now()

	var loan *db.Loan
	err := s.db.Transaction(ctx, func(tx *db.DB) error {
		catalog := s.catalog.WithTx(tx)
		loans := s.loans.WithTx(tx)

		book, err := catalog.GetBookForUpdate(ctx, bookID)
		if err != nil {
			if errors.Is(err, repo.ErrBookNotFound) {
				return apperr.NotFound("Book not found")
			}
			return err
		}
		if book.Total <= 0 {
			return apperr.OutOfStock("Book not available")
		}

		if _, err := loans.FindActiveLoan(ctx, studentID, bookID); err == nil {
			return apperr.DuplicateLoan("Already issued")
		} else if !errors.Is(err, repo.ErrLoanNotFound) {
			return err
		}

		count, err := loans.CountActiveLoans(ctx, studentID)
		if err != nil {
			return err
		}
		if count >= int64(s.policy.MaxActiveLoans) {
			return apperr.LimitExceeded("Book limit reached (Max %d books allowed)", s.policy.MaxActiveLoans)
		}

		if _, err := catalog.AdjustAvailability(ctx, bookID, -1); err != nil {
			if errors.Is(err, repo.ErrInsufficientCopies) {
				return apperr.OutOfStock("Book not available")
			}
			return err
		}

		loan, err = loans.OpenLoan(ctx, studentID, bookID, now)
		if err != nil {
			if errors.Is(err, repo.ErrLoanAlreadyActive) {
				return apperr.DuplicateLoan("Already issued")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("issue", err)
	}

	s.metrics.LoansIssued.Inc()
	s.metrics.ActiveLoans.Inc()
	s.refreshCatalog(ctx)
	s.log.Info("Book issued",
		zap.Uint("loan_id", loan.ID),
		zap.Uint("book_id", bookID),
		zap.Uint("student_id", studentID),
	)
	s.emit(ctx, events.LoanIssued(loan.ID, bookID, studentID, loan.IssuedAt))
	return loan, nil
}

// Return closes a student's active loan of a book, assesses the fine and
// archives the loan. The returned entry carries the days held and the fine.
func (s *Service) Return(ctx context.Context, studentID, bookID uint) (*db.HistoryEntry, error) {
	if studentID == 0 {
		return nil, s.reject("return", apperr.Validation("user_id is required"))
	}

	unlock := s.locks.lock(bookKey(bookID), studentKey(studentID))
	defer unlock()

	now := s.clock.Now()

	var entry *db.HistoryEntry
	err := s.db.Transaction(ctx, func(tx *db.DB) error {
		catalog := s.catalog.WithTx(tx)
		loans := s.loans.WithTx(tx)

		loan, err := loans.FindActiveLoan(ctx, studentID, bookID)
		if err != nil {
			if errors.Is(err, repo.ErrLoanNotFound) {
				return apperr.NotFound("Book already returned or not issued")
			}
			return err
		}

		book, err := catalog.GetBookForUpdate(ctx, bookID)
		if err != nil {
			return err
		}
		if _, err := catalog.AdjustAvailability(ctx, bookID, 1); err != nil {
			return err
		}

		closed, err := loans.CloseLoan(ctx, loan.ID, now)
		if err != nil {
			if errors.Is(err, repo.ErrLoanNotFound) {
				return apperr.NotFound("Book already returned or not issued")
			}
			return err
		}

		days, fine := s.policy.Fines.Assess(closed.IssuedAt, now)
		entry = &db.HistoryEntry{
			LoanID:     closed.ID,
			StudentID:  studentID,
			BookID:     bookID,
			BookTitle:  book.Title,
			IssuedAt:   closed.IssuedAt,
			ReturnedAt: now,
			Days:       days,
			Fine:       fine,
		}
		return s.history.WithTx(tx).Append(ctx, entry)
	})
	if err != nil {
		return nil, s.fail("return", err)
	}

	s.metrics.LoansReturned.Inc()
	s.metrics.ActiveLoans.Dec()
	s.metrics.FinesAssessed.Add(float64(entry.Fine))
	s.refreshCatalog(ctx)
	s.log.Info("Book returned",
		zap.Uint("loan_id", entry.LoanID),
		zap.Uint("book_id", bookID),
		zap.Uint("student_id", studentID),
		zap.Int("days", entry.Days),
		zap.Int64("fine", entry.Fine),
	)
	s.emit(ctx, events.LoanReturned(entry.LoanID, bookID, studentID, now, entry.Days, entry.Fine))
	return entry, nil
}

// ListActiveLoans returns a student's open loans, oldest first, with the
// fine each would carry if returned now.
func (s *Service) ListActiveLoans(ctx context.Context, studentID uint) ([]ActiveLoan, error) {
	rows, err := s.loans.ListActiveLoans(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list active loans: %w", err)
	}

	now := s.clock.Now()
	out := make([]ActiveLoan, 0, len(rows))
	for _, row := range rows {
		days, fine := s.policy.Fines.Assess(row.IssuedAt, now)
		out = append(out, ActiveLoan{
			LoanID:   row.LoanID,
			BookID:   row.BookID,
			BookName: row.BookTitle,
			IssuedAt: row.IssuedAt,
			Days:     days,
			Fine:     fine,
			Overdue:  s.policy.Fines.IsOverdue(days),
		})
	}
	return out, nil
}

// History returns a student's closed loans, newest first.
func (s *Service) History(ctx context.Context, studentID uint) ([]*db.HistoryEntry, error) {
	entries, err := s.history.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// ListAllIssued returns every open loan with its borrower.
func (s *Service) ListAllIssued(ctx context.Context) ([]IssuedLoan, error) {
	rows, err := s.loans.ListAllActiveLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list issued loans: %w", err)
	}

	now := s.clock.Now()
	out := make([]IssuedLoan, 0, len(rows))
	for _, row := range rows {
		days, fine := s.policy.Fines.Assess(row.IssuedAt, now)
		out = append(out, IssuedLoan{
			LoanID:      row.LoanID,
			StudentID:   row.StudentID,
			StudentName: row.StudentName,
			Email:       row.Email,
			BookID:      row.BookID,
			BookTitle:   row.BookTitle,
			IssuedAt:    row.IssuedAt,
			Days:        days,
			Fine:        fine,
			Overdue:     s.policy.Fines.IsOverdue(days),
		})
	}
	return out, nil
}

// AdminHistory returns every closed loan across students, newest first.
func (s *Service) AdminHistory(ctx context.Context) ([]ArchivedLoan, error) {
	rows, err := s.history.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all history: %w", err)
	}

	out := make([]ArchivedLoan, 0, len(rows))
	for _, row := range rows {
		out = append(out, ArchivedLoan{
			LoanID:      row.LoanID,
			StudentID:   row.StudentID,
			StudentName: row.StudentName,
			BookID:      row.BookID,
			BookName:    row.BookTitle,
			IssuedAt:    row.IssuedAt,
			ReturnedAt:  row.ReturnedAt,
			Days:        row.Days,
			Fine:        row.Fine,
		})
	}
	return out, nil
}

// Wait blocks until every queued event has been handed to the publisher.
func (s *Service) Wait() {
	s.pending.Wait()
}

// fail classifies a transaction error: rule violations are counted and
// returned as is, anything else is wrapped with the operation name.
func (s *Service) fail(operation string, err error) error {
	if apperr.Reason(err) != "internal" {
		return s.reject(operation, err)
	}
	s.log.Error("Lending operation failed", zap.String("operation", operation), zap.Error(err))
	return fmt.Errorf("%s: %w", operation, err)
}

func (s *Service) reject(operation string, err error) error {
	s.metrics.Rejections.WithLabelValues(operation, apperr.Reason(err)).Inc()
	s.log.Debug("Lending operation rejected", zap.String("operation", operation), zap.Error(err))
	return err
}

// emit publishes an event in the background. Publishing failures are logged
// and never undo the committed change.
func (s *Service) emit(ctx context.Context, event events.Event) {
	event.CorrelationID = events.CorrelationID(ctx)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		eventCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := s.publisher.Publish(eventCtx, event); err != nil {
			s.log.Error("Failed to publish event",
				zap.String("event_type", event.EventType),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
	}()
}

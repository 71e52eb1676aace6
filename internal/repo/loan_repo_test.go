package repo

import (
	"context"
	"testing"

	"github.com/bookstore/services/lending/internal/db"
	"github.com/bookstore/services/lending/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndFindLoan(t *testing.T) {
	_, _, loans, book := newLoanFixture(t)
	ctx := context.Background()

	_, err := loans.FindActiveLoan(ctx, 7, book.ID)
	assert.Equal(t, ErrLoanNotFound, err)

	opened, err := loans.OpenLoan(ctx, 7, book.ID, epoch)
	require.NoError(t, err)
	assert.Nil(t, opened.ReturnedAt)

	found, err := loans.FindActiveLoan(ctx, 7, book.ID)
	require.NoError(t, err)
	assert.Equal(t, opened.ID, found.ID)
	assert.True(t, found.IssuedAt.Equal(epoch))
}

func TestOpenLoanTwiceForSamePair(t *testing.T) {
	_, _, loans, book := newLoanFixture(t)
	ctx := context.Background()

	_, err := loans.OpenLoan(ctx, 7, book.ID, epoch)
	require.NoError(t, err)

	_, err = loans.OpenLoan(ctx, 7, book.ID, epoch)
	assert.Equal(t, ErrLoanAlreadyActive, err)
}

func TestCountActiveLoans(t *testing.T) {
	_, catalog, loans, book := newLoanFixture(t)
	ctx := context.Background()

	other := &db.Book{Title: "Other", Total: 1}
	require.NoError(t, catalog.CreateBook(ctx, other))

	_, err := loans.OpenLoan(ctx, 1, book.ID, epoch)
	require.NoError(t, err)
	second, err := loans.OpenLoan(ctx, 1, other.ID, epoch)
	require.NoError(t, err)
	_, err = loans.OpenLoan(ctx, 2, book.ID, epoch)
	require.NoError(t, err)

	count, err := loans.CountActiveLoans(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = loans.CountActiveLoansForBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = loans.CloseLoan(ctx, second.ID, epoch.AddDate(0, 0, 1))
	require.NoError(t, err)

	count, err = loans.CountActiveLoans(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	total, err := loans.CountAllActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestCloseLoan(t *testing.T) {
	_, _, loans, book := newLoanFixture(t)
	ctx := context.Background()

	opened, err := loans.OpenLoan(ctx, 3, book.ID, epoch)
	require.NoError(t, err)

	returnedAt := epoch.AddDate(0, 0, 10)
	closed, err := loans.CloseLoan(ctx, opened.ID, returnedAt)
	require.NoError(t, err)
	require.NotNil(t, closed.ReturnedAt)
	assert.True(t, closed.ReturnedAt.Equal(returnedAt))
	assert.NotNil(t, closed.ReturnedAt)

	// Closing twice is rejected
	_, err = loans.CloseLoan(ctx, opened.ID, returnedAt)
	assert.Equal(t, ErrLoanNotFound, err)

	_, err = loans.FindActiveLoan(ctx, 3, book.ID)
	assert.Equal(t, ErrLoanNotFound, err)
}

func TestListActiveLoansJoinsBooksAndUsers(t *testing.T) {
	database, catalog, loans, book := newLoanFixture(t)
	ctx := context.Background()

	users := NewUserRepository(database, logger.NewTestLogger())
	alice := &db.User{Name: "Alice", Email: "alice@example.com", PasswordHash: "x", Role: db.RoleStudent}
	require.NoError(t, users.CreateUser(ctx, alice))

	other := &db.Book{Title: "Second", Total: 1}
	require.NoError(t, catalog.CreateBook(ctx, other))

	_, err := loans.OpenLoan(ctx, alice.ID, other.ID, epoch.AddDate(0, 0, 1))
	require.NoError(t, err)
	_, err = loans.OpenLoan(ctx, alice.ID, book.ID, epoch)
	require.NoError(t, err)
	_, err = loans.OpenLoan(ctx, 999, book.ID, epoch.AddDate(0, 0, 2))
	require.NoError(t, err)

	rows, err := loans.ListActiveLoans(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Loanable", rows[0].BookTitle)
	assert.Equal(t, "Second", rows[1].BookTitle)
	assert.Equal(t, "Alice", rows[0].StudentName)
	assert.True(t, rows[0].IssuedAt.Equal(epoch))

	all, err := loans.ListAllActiveLoans(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint(999), all[2].StudentID)
	assert.Equal(t, "", all[2].StudentName)
}

func TestHistoryRepository(t *testing.T) {
	database := setupTestDB(t)
	log := logger.NewTestLogger()
	history := NewHistoryRepository(database, log)
	users := NewUserRepository(database, log)
	ctx := context.Background()

	bob := &db.User{Name: "Bob", Email: "bob@example.com", PasswordHash: "x", Role: db.RoleStudent}
	require.NoError(t, users.CreateUser(ctx, bob))

	older := &db.HistoryEntry{LoanID: 1, StudentID: bob.ID, BookID: 1, BookTitle: "Old", IssuedAt: epoch, ReturnedAt: epoch.AddDate(0, 0, 2), Days: 2}
	newer := &db.HistoryEntry{LoanID: 2, StudentID: bob.ID, BookID: 2, BookTitle: "New", IssuedAt: epoch.AddDate(0, 0, 5), ReturnedAt: epoch.AddDate(0, 0, 15), Days: 10, Fine: 15}
	foreign := &db.HistoryEntry{LoanID: 3, StudentID: 42, BookID: 1, BookTitle: "Old", IssuedAt: epoch.AddDate(0, 0, 1), ReturnedAt: epoch.AddDate(0, 0, 1)}
	for _, e := range []*db.HistoryEntry{older, newer, foreign} {
		require.NoError(t, history.Append(ctx, e))
	}

	entries, err := history.ListByStudent(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "New", entries[0].BookTitle)
	assert.Equal(t, int64(15), entries[0].Fine)
	assert.Equal(t, "Old", entries[1].BookTitle)

	all, err := history.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Bob", all[0].StudentName)
	assert.Equal(t, uint(42), all[1].StudentID)
	assert.Equal(t, "", all[1].StudentName)

	// A loan is archived at most once
	assert.Error(t, history.Append(ctx, &db.HistoryEntry{LoanID: 1, StudentID: bob.ID, BookID: 1, BookTitle: "Old", IssuedAt: epoch, ReturnedAt: epoch}))
}

func TestUserRepository(t *testing.T) {
	database := setupTestDB(t)
	users := NewUserRepository(database, logger.NewTestLogger())
	ctx := context.Background()

	user := &db.User{Name: "Carol", Email: "  Carol@Example.com ", PasswordHash: "hash", Role: db.RoleAdmin}
	require.NoError(t, users.CreateUser(ctx, user))
	assert.Equal(t, "carol@example.com", user.Email)

	found, err := users.GetUserByEmail(ctx, "CAROL@example.COM")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	byID, err := users.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Carol", byID.Name)

	err = users.CreateUser(ctx, &db.User{Name: "Carol 2", Email: "carol@example.com", PasswordHash: "h", Role: db.RoleStudent})
	assert.Equal(t, ErrUserAlreadyExists, err)

	_, err = users.GetUserByEmail(ctx, "nobody@example.com")
	assert.Equal(t, ErrUserNotFound, err)
	_, err = users.GetUser(ctx, 404)
	assert.Equal(t, ErrUserNotFound, err)
}

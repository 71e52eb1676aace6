package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNewInMemoryAppliesSchema(t *testing.T) {
	database, err := NewInMemory()
	require.NoError(t, err)
	defer database.Close()

	assert.NoError(t, database.Ping())
	for _, table := range []string{"books", "loans", "history_entries", "users"} {
		assert.True(t, database.Migrator().HasTable(table), table)
	}
}

func TestIsPostgres(t *testing.T) {
	assert.True(t, isPostgres("postgres://u:p@localhost:5432/lending"))
	assert.True(t, isPostgres("postgresql://localhost/lending"))
	assert.False(t, isPostgres("lending.db"))
	assert.False(t, isPostgres(":memory:"))
}

func TestTransactionRollsBack(t *testing.T) {
	database, err := NewInMemory()
	require.NoError(t, err)
	defer database.Close()

	boom := errors.New("boom")
	err = database.Transaction(context.Background(), func(tx *DB) error {
		require.NoError(t, tx.Create(&Book{Title: "Rolled Back", Total: 1}).Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, database.Model(&Book{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestActiveLoanPairIsUnique(t *testing.T) {
	database, err := NewInMemory()
	require.NoError(t, err)
	defer database.Close()

	now := time.Now().UTC()
	require.NoError(t, database.Create(&Loan{BookID: 1, StudentID: 1, IssuedAt: now}).Error)

	err = database.Create(&Loan{BookID: 1, StudentID: 1, IssuedAt: now}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// A closed loan does not block a new one for the same pair
	require.NoError(t, database.Model(&Loan{}).Where("id = ?", 1).Update("returned_at", now).Error)
	assert.NoError(t, database.Create(&Loan{BookID: 1, StudentID: 1, IssuedAt: now}).Error)
}

func TestBookTotalCannotGoNegative(t *testing.T) {
	database, err := NewInMemory()
	require.NoError(t, err)
	defer database.Close()

	book := &Book{Title: "Checked", Total: 0}
	require.NoError(t, database.Create(book).Error)

	err = database.Model(&Book{}).Where("id = ?", book.ID).Update("total", gorm.Expr("total - 1")).Error
	assert.Error(t, err)
}

func TestBookTitleKeyIsFolded(t *testing.T) {
	database, err := NewInMemory()
	require.NoError(t, err)
	defer database.Close()

	book := &Book{Title: "Éléments de Géométrie", Total: 1}
	require.NoError(t, database.Create(book).Error)
	assert.Equal(t, "éléments de géométrie", book.TitleKey)

	assert.Equal(t, FoldTitle("ÖKONOMIE"), FoldTitle("ökonomie"))
}

func TestMigrationsBackfillTitleKeys(t *testing.T) {
	database, err := NewInMemory()
	require.NoError(t, err)
	defer database.Close()

	book := &Book{Title: "Ökonomie", Total: 1}
	require.NoError(t, database.Create(book).Error)
	require.NoError(t, database.Model(&Book{}).Where("id = ?", book.ID).Update("title_key", "").Error)

	require.NoError(t, RunMigrations(database))

	var stored Book
	require.NoError(t, database.First(&stored, book.ID).Error)
	assert.Equal(t, "ökonomie", stored.TitleKey)
}

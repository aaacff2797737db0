package invoices_test

import (
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/db"
	"gitlab.com/arcanecrypto/conduit/models/invoices"
	"gitlab.com/arcanecrypto/conduit/reconcile"
	"gitlab.com/arcanecrypto/conduit/testutil"
	"gitlab.com/arcanecrypto/conduit/testutil/userstestutil"
)

var (
	databaseConfig = testutil.GetDatabaseConfig("invoices")
	testDB         *db.DB
)

func TestMain(m *testing.M) {
	gofakeit.Seed(0)
	build.SetLogLevels(logrus.ErrorLevel)

	testDB = testutil.InitDatabase(databaseConfig)

	result := m.Run()

	os.Exit(result)
}

func insertInvoiceOrFail(t *testing.T, userID int, request string) invoices.Invoice {
	t.Helper()
	invoice, err := invoices.Insert(testDB, invoices.Invoice{
		UserID:    userID,
		Request:   request,
		Tokens:    1000,
		Status:    reconcile.PENDING,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return invoice
}

func TestInsert(t *testing.T) {
	t.Parallel()
	user := userstestutil.CreateUserOrFail(t, testDB)

	t.Run("a new invoice starts out pending", func(t *testing.T) {
		t.Parallel()
		invoice := insertInvoiceOrFail(t, user.ID, "lntb1"+gofakeit.UUID())
		assert.Equal(t, reconcile.PENDING, invoice.Status)
		assert.NotZero(t, invoice.ID)
	})

	t.Run("inserting the same request twice returns the existing row", func(t *testing.T) {
		t.Parallel()
		request := "lntb1" + gofakeit.UUID()
		first := insertInvoiceOrFail(t, user.ID, request)
		second := insertInvoiceOrFail(t, user.ID, request)
		assert.Equal(t, first.ID, second.ID)

		// still only one row
		found, err := invoices.GetByRequest(testDB, request)
		require.NoError(t, err)
		assert.Equal(t, first.ID, found.ID)
	})
}

func TestGetByRequest(t *testing.T) {
	t.Parallel()

	_, err := invoices.GetByRequest(testDB, "lntb1neverinserted")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestUpdateStatusByRequest(t *testing.T) {
	t.Parallel()
	user := userstestutil.CreateUserOrFail(t, testDB)

	t.Run("updates the status of an existing invoice", func(t *testing.T) {
		t.Parallel()
		request := "lntb1" + gofakeit.UUID()
		insertInvoiceOrFail(t, user.ID, request)

		rows, err := invoices.UpdateStatusByRequest(testDB, request, reconcile.PAID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)

		found, err := invoices.GetByRequest(testDB, request)
		require.NoError(t, err)
		assert.Equal(t, reconcile.PAID, found.Status)
	})

	t.Run("an unknown request affects zero rows without error", func(t *testing.T) {
		t.Parallel()
		rows, err := invoices.UpdateStatusByRequest(testDB, "lntb1unknown"+gofakeit.UUID(), reconcile.CHECKED)
		require.NoError(t, err)
		assert.Zero(t, rows)
	})
}

func TestGetByUserID(t *testing.T) {
	t.Parallel()
	user := userstestutil.CreateUserOrFail(t, testDB)

	for i := 0; i < 3; i++ {
		insertInvoiceOrFail(t, user.ID, "lntb1"+gofakeit.UUID())
	}

	found, err := invoices.GetByUserID(testDB, user.ID, 100, 0)
	require.NoError(t, err)
	assert.Len(t, found, 3)

	paged, err := invoices.GetByUserID(testDB, user.ID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, paged, 1)

	other := userstestutil.CreateUserOrFail(t, testDB)
	empty, err := invoices.GetByUserID(testDB, other.ID, 100, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

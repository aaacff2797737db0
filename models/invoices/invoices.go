package invoices

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/db"
	"gitlab.com/arcanecrypto/conduit/reconcile"
)

var log = build.AddSubLogger("INVC")

// uniqueRequestConstraint makes the provider's request string the natural
// key of the table
const uniqueRequestConstraint = "invoices_request_key"

// Invoice is a Lightning invoice we track the lifecycle of. The request
// string is the natural key, all lookups and status updates go by it.
type Invoice struct {
	ID          int              `db:"id" json:"id"`
	UserID      int              `db:"user_id" json:"userId"`
	Request     string           `db:"request" json:"request"`
	Description *string          `db:"description" json:"description"`
	Tokens      int64            `db:"tokens" json:"tokens"`
	Status      reconcile.Status `db:"status" json:"status"`
	ExpiresAt   time.Time        `db:"expires_at" json:"expiresAt"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

const selectFromInvoicesTable = `SELECT id, user_id, request, description,
	tokens, status, expires_at, created_at, updated_at FROM invoices`

// Insert persists a new invoice. Inserting the same request string twice
// returns the already persisted row, so a retried write after a partial
// failure is safe.
func Insert(d *db.DB, invoice Invoice) (Invoice, error) {
	query := `INSERT INTO invoices (user_id, request, description, tokens, status, expires_at)
	VALUES (:user_id, :request, :description, :tokens, :status, :expires_at)
	RETURNING id, user_id, request, description, tokens, status, expires_at,
		created_at, updated_at`

	rows, err := d.NamedQuery(query, invoice)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Constraint == uniqueRequestConstraint {
			log.WithField("request", invoice.Request).
				Info("Invoice already persisted, returning existing row")
			return GetByRequest(d, invoice.Request)
		}
		return Invoice{}, errors.Wrap(err, "could not insert invoice")
	}
	return scanInvoice(rows)
}

// GetByRequest finds the invoice with the given request string. A missing
// row is reported as sql.ErrNoRows.
func GetByRequest(d *db.DB, request string) (Invoice, error) {
	invoice := Invoice{}
	query := selectFromInvoicesTable + ` WHERE request = $1 LIMIT 1`
	if err := d.Get(&invoice, query, request); err != nil {
		return Invoice{}, err
	}
	return invoice, nil
}

// GetByUserID lists the given user's invoices, newest first
func GetByUserID(d *db.DB, userID int, limit, offset int) ([]Invoice, error) {
	query := selectFromInvoicesTable + ` WHERE user_id = $1
	ORDER BY created_at DESC
	LIMIT $2 OFFSET $3`

	var result []Invoice
	if err := d.Select(&result, query, userID, limit, offset); err != nil {
		return nil, errors.Wrap(err, "could not list invoices")
	}
	if result == nil {
		result = []Invoice{}
	}
	return result, nil
}

// UpdateStatusByRequest sets the status of the invoice with the given
// request string. Updating a request we have no row for affects zero rows
// and is not an error, a payment probe may concern an invoice we never
// created.
func UpdateStatusByRequest(d *db.DB, request string, status reconcile.Status) (int64, error) {
	result, err := d.Exec(`UPDATE invoices SET status = $1 WHERE request = $2`,
		string(status), request)
	if err != nil {
		return 0, errors.Wrap(err, "could not update invoice status")
	}
	return result.RowsAffected()
}

type dbScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

func scanInvoice(rows dbScanner) (Invoice, error) {
	invoice := Invoice{}
	if rows.Next() {
		if err := rows.Scan(
			&invoice.ID,
			&invoice.UserID,
			&invoice.Request,
			&invoice.Description,
			&invoice.Tokens,
			&invoice.Status,
			&invoice.ExpiresAt,
			&invoice.CreatedAt,
			&invoice.UpdatedAt,
		); err != nil {
			return Invoice{}, errors.Wrap(err, "could not scan invoice")
		}
	} else {
		return Invoice{}, errors.Wrap(sql.ErrNoRows, "could not scan invoice")
	}

	if err := rows.Close(); err != nil {
		return Invoice{}, err
	}
	return invoice, rows.Err()
}

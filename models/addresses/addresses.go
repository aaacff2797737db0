package addresses

import (
	"database/sql"
	origerrors "errors"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/db"
)

var log = build.AddSubLogger("ADDR")

// uniqueUserConstraint guards the one-address-per-user invariant. A
// violation means a concurrent issuance won the race, the loser reads
// back the winner's row.
const uniqueUserConstraint = "addresses_user_id_key"

// ErrUserAlreadyHasAddress is returned when inserting a second address
// for a user
var ErrUserAlreadyHasAddress = errors.New("user already has an address")

// Address is the receiving address we keep on file for a user. At most
// one exists per user, and once written only the used flag may change.
type Address struct {
	ID          int     `db:"id" json:"id"`
	UserID      int     `db:"user_id" json:"userId"`
	Address     string  `db:"address" json:"address"`
	Label       *string `db:"label" json:"label"`
	AddressType *string `db:"address_type" json:"addressType"`
	Used        bool    `db:"used" json:"used"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

// GetByUserID finds the address on file for the given user, if any.
// A missing row is reported as sql.ErrNoRows.
func GetByUserID(d *db.DB, userID int) (Address, error) {
	query := `SELECT id, user_id, address, label, address_type, used, created_at, updated_at
	FROM addresses WHERE user_id = $1 LIMIT 1`

	address := Address{}
	if err := d.Get(&address, query, userID); err != nil {
		return Address{}, err
	}
	return address, nil
}

// Insert persists a freshly generated address. The unique constraint on
// user_id makes this the atomic insert-if-absent the issuance flow needs,
// a duplicate comes back as ErrUserAlreadyHasAddress.
func Insert(i db.Inserter, address Address) (Address, error) {
	query := `INSERT INTO addresses (user_id, address, label, address_type)
	VALUES (:user_id, :address, :label, :address_type)
	RETURNING id, user_id, address, label, address_type, used, created_at, updated_at`

	rows, err := i.NamedQuery(query, address)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Constraint == uniqueUserConstraint {
			log.WithField("userId", address.UserID).
				Info("Concurrent address issuance lost the insert race")
			return Address{}, ErrUserAlreadyHasAddress
		}
		return Address{}, errors.Wrap(err, "could not insert address")
	}

	inserted := Address{}
	if rows.Next() {
		if err := rows.Scan(
			&inserted.ID,
			&inserted.UserID,
			&inserted.Address,
			&inserted.Label,
			&inserted.AddressType,
			&inserted.Used,
			&inserted.CreatedAt,
			&inserted.UpdatedAt,
		); err != nil {
			return Address{}, errors.Wrap(err, "could not scan address")
		}
	} else {
		return Address{}, errors.Wrap(sql.ErrNoRows, "could not scan address")
	}

	if err := rows.Close(); err != nil {
		return Address{}, err
	}
	return inserted, nil
}

// MarkUsed flips the used flag on the user's address. The row itself is
// never deleted or rewritten.
func MarkUsed(d *db.DB, userID int) error {
	result, err := d.Exec(`UPDATE addresses SET used = true WHERE user_id = $1`, userID)
	if err != nil {
		return errors.Wrap(err, "could not mark address as used")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return origerrors.New("user has no address")
	}
	return nil
}

package transfers

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/btcsuite/btcutil"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/conduit/db"
)

// Transfer is an on-chain send as the provider reported it back to us.
// Every field is a snapshot of the provider's authoritative response,
// nothing here is computed locally.
type Transfer struct {
	ID            int     `db:"id"`
	UserID        int     `db:"user_id"`
	Reference     string  `db:"reference"`
	AmountSat     int64   `db:"amount_sat"`
	FeeSat        *int64  `db:"fee_sat"`
	Address       string  `db:"address"`
	Description   *string `db:"description"`
	PriorityLevel string  `db:"priority_level"`
	Status        string  `db:"status"`
	Action        string  `db:"action"`
	Txid          *string `db:"txid"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// MarshalJSON serializes a transfer with the bitcoin amount derived from
// satoshis. Fractional bitcoin is never stored, only derived.
func (t Transfer) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID            int       `json:"id"`
		UserID        int       `json:"userId"`
		Reference     string    `json:"reference"`
		SatAmount     int64     `json:"satAmount"`
		BtcAmount     float64   `json:"btcAmount"`
		SatFees       *int64    `json:"satFees"`
		Address       string    `json:"address"`
		Description   *string   `json:"description"`
		PriorityLevel string    `json:"priorityLevel"`
		Status        string    `json:"status"`
		Action        string    `json:"action"`
		Hash          *string   `json:"hash"`
		CreatedAt     time.Time `json:"createdAt"`
	}{
		ID:            t.ID,
		UserID:        t.UserID,
		Reference:     t.Reference,
		SatAmount:     t.AmountSat,
		BtcAmount:     btcutil.Amount(t.AmountSat).ToBTC(),
		SatFees:       t.FeeSat,
		Address:       t.Address,
		Description:   t.Description,
		PriorityLevel: t.PriorityLevel,
		Status:        t.Status,
		Action:        t.Action,
		Hash:          t.Txid,
		CreatedAt:     t.CreatedAt,
	})
}

const returningFromTransfersTable = `RETURNING id, user_id, reference, amount_sat,
	fee_sat, address, description, priority_level, status, action, txid,
	created_at, updated_at`

// Insert persists a transfer snapshot
func Insert(i db.Inserter, transfer Transfer) (Transfer, error) {
	query := `INSERT INTO transfers (user_id, reference, amount_sat, fee_sat,
		address, description, priority_level, status, action, txid)
	VALUES (:user_id, :reference, :amount_sat, :fee_sat, :address, :description,
		:priority_level, :status, :action, :txid) ` + returningFromTransfersTable

	rows, err := i.NamedQuery(query, transfer)
	if err != nil {
		return Transfer{}, errors.Wrap(err, "could not insert transfer")
	}
	return scanTransfer(rows)
}

// GetByUserID lists the given user's transfers, newest first
func GetByUserID(d *db.DB, userID int, limit, offset int) ([]Transfer, error) {
	query := `SELECT id, user_id, reference, amount_sat, fee_sat, address,
		description, priority_level, status, action, txid, created_at, updated_at
	FROM transfers WHERE user_id = $1
	ORDER BY created_at DESC
	LIMIT $2 OFFSET $3`

	var result []Transfer
	if err := d.Select(&result, query, userID, limit, offset); err != nil {
		return nil, errors.Wrap(err, "could not list transfers")
	}
	if result == nil {
		result = []Transfer{}
	}
	return result, nil
}

type dbScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

func scanTransfer(rows dbScanner) (Transfer, error) {
	transfer := Transfer{}
	if rows.Next() {
		if err := rows.Scan(
			&transfer.ID,
			&transfer.UserID,
			&transfer.Reference,
			&transfer.AmountSat,
			&transfer.FeeSat,
			&transfer.Address,
			&transfer.Description,
			&transfer.PriorityLevel,
			&transfer.Status,
			&transfer.Action,
			&transfer.Txid,
			&transfer.CreatedAt,
			&transfer.UpdatedAt,
		); err != nil {
			return Transfer{}, errors.Wrap(err, "could not scan transfer")
		}
	} else {
		return Transfer{}, errors.Wrap(sql.ErrNoRows, "could not scan transfer")
	}

	if err := rows.Close(); err != nil {
		return Transfer{}, err
	}
	return transfer, rows.Err()
}

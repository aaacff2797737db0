package apikeys

import (
	"crypto/sha256"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"gitlab.com/arcanecrypto/conduit/db"
)

// Permissions is the set of actions an API key is allowed to perform
type Permissions struct {
	ReadWallet      bool `db:"read_wallet" json:"readWallet"`
	CreateInvoice   bool `db:"create_invoice" json:"createInvoice"`
	SendTransaction bool `db:"send_transaction" json:"sendTransaction"`
	EditAccount     bool `db:"edit_account" json:"editAccount"`
}

// AllPermissions is a key that can do everything
var AllPermissions = Permissions{
	ReadWallet:      true,
	CreateInvoice:   true,
	SendTransaction: true,
	EditAccount:     true,
}

// ErrNoPermissions is returned when creating a key that can't do anything
var ErrNoPermissions = errors.New("API key must have at least one permission")

// Key is the database representation of our API keys
type Key struct {
	HashedKey   []byte  `db:"hashed_key" json:"-"`
	UserID      int     `db:"user_id" json:"userId"`
	Description *string `db:"description" json:"description"`
	Permissions

	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"-"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// New creates a new API key for the given user. It returns both the inserted
// DB struct as well as the raw API key. It's not possible to retrieve the raw
// API key at a later point in time.
func New(d *db.DB, userID int, perms Permissions, description string) (
	uuid.UUID, Key, error) {

	if perms == (Permissions{}) {
		return uuid.UUID{}, Key{}, ErrNoPermissions
	}

	key := uuid.NewV4()

	apiKey := Key{
		HashedKey:   hashKey(key),
		UserID:      userID,
		Permissions: perms,
	}
	if description != "" {
		apiKey.Description = &description
	}

	query := `INSERT INTO api_keys
	(hashed_key, user_id, description, read_wallet, create_invoice, send_transaction, edit_account)
	VALUES (:hashed_key, :user_id, :description, :read_wallet, :create_invoice, :send_transaction, :edit_account)
	RETURNING hashed_key, user_id, description, read_wallet, create_invoice,
		send_transaction, edit_account, created_at, updated_at, deleted_at`
	rows, err := d.NamedQuery(query, apiKey)
	if err != nil {
		return uuid.UUID{}, Key{}, errors.Wrap(err, "could not insert API key")
	}
	inserted := Key{}
	if rows.Next() {
		if err := rows.Scan(
			&inserted.HashedKey,
			&inserted.UserID,
			&inserted.Description,
			&inserted.ReadWallet,
			&inserted.CreateInvoice,
			&inserted.SendTransaction,
			&inserted.EditAccount,
			&inserted.CreatedAt,
			&inserted.UpdatedAt,
			&inserted.DeletedAt,
		); err != nil {
			return uuid.UUID{}, Key{}, errors.Wrap(err, "could not scan API key")
		}
	} else {
		return uuid.UUID{}, Key{}, errors.Wrap(sql.ErrNoRows, "could not scan API key")
	}

	if err := rows.Close(); err != nil {
		return uuid.UUID{}, Key{}, err
	}
	return key, inserted, nil
}

// Get looks up the key matching the given raw API key
func Get(d *db.DB, key uuid.UUID) (Key, error) {
	query := `SELECT hashed_key, user_id, description, read_wallet, create_invoice,
		send_transaction, edit_account, created_at, updated_at
	FROM api_keys
	WHERE hashed_key = $1 AND deleted_at IS NULL
	LIMIT 1`
	apiKey := Key{}
	if err := d.Get(&apiKey, query, hashKey(key)); err != nil {
		return Key{}, errors.Wrap(err, "API key not found")
	}
	return apiKey, nil
}

// GetByUserID gets all API keys associated with the given user ID
func GetByUserID(d *db.DB, userID int) ([]Key, error) {
	query := `SELECT * FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL`
	var keys []Key
	if err := d.Select(&keys, query, userID); err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []Key{}
	}
	return keys, nil
}

func hashKey(key uuid.UUID) []byte {
	hasher := sha256.New()
	// according to godoc, this operation never fails
	_, _ = hasher.Write(key.Bytes())
	return hasher.Sum(nil)
}

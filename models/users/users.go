package users

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/db"
)

var log = build.AddSubLogger("USER")

// User is a database table
type User struct {
	ID int `db:"id"`

	Email          string  `db:"email"`
	Firstname      *string `db:"first_name"`
	Lastname       *string `db:"last_name"`
	HashedPassword []byte  `db:"hashed_password" json:"-"`

	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// SQL related constants
const (
	// returningFromUsersTable is a SQL snippet that returns all the rows needed
	// to scan a user struct
	returningFromUsersTable = "RETURNING id, email, hashed_password, first_name, last_name, created_at, updated_at"
	// selectFromUsersTable is a SQL snippet that selects all the rows needed to
	// get a full fledged user struct
	selectFromUsersTable = "SELECT id, email, hashed_password, first_name, last_name, created_at, updated_at"

	uniqueEmailConstraint = "users_email_key"
)

// Exported errors
var (
	// ErrEmailMustBeUnique is used to signify that an already existing user has the desired email
	ErrEmailMustBeUnique           = errors.New("user emails must be unique")
	ErrHashedPasswordMustBeDefined = errors.New(
		"property HashedPassword on user must be defined")
	ErrEmailMustBeDefined = errors.New(
		"property Email on user must be defined")
)

// CreateUserArgs is the args for creating a new user
type CreateUserArgs struct {
	Email     string
	Password  string
	FirstName *string
	LastName  *string
}

// Create inserts a user with email, password, firstname and lastname into
// the db. The password is hashed and salted before it is saved.
func Create(d *db.DB, args CreateUserArgs) (User, error) {
	hashedPassword, err := hashAndSalt(args.Password)
	if err != nil {
		return User{}, err
	}
	user := User{
		Email:          args.Email,
		HashedPassword: hashedPassword,
		Firstname:      args.FirstName,
		Lastname:       args.LastName,
	}

	return InsertUser(d, user)
}

// GetByID selects all columns for user where id=id
func GetByID(d *db.DB, id int) (User, error) {
	userResult := User{}
	uQuery := fmt.Sprintf(`%s FROM users WHERE id=$1 LIMIT 1`,
		selectFromUsersTable)

	if err := d.Get(&userResult, uQuery, id); err != nil {
		return User{}, errors.Wrapf(err, "GetByID(db, %d)", id)
	}

	return userResult, nil
}

// GetByEmail selects all columns for user where email=email
func GetByEmail(d *db.DB, email string) (User, error) {
	userResult := User{}
	uQuery := fmt.Sprintf(`%s FROM users WHERE email=$1 LIMIT 1`,
		selectFromUsersTable)

	if err := d.Get(&userResult, uQuery, email); err != nil {
		return User{}, err
	}

	return userResult, nil
}

// GetByCredentials retrieves a user by email, then compares the stored
// bcrypt hash against the raw password. Returns the user if and only if
// the password matches.
func GetByCredentials(d *db.DB, email string, password string) (User, error) {
	userResult := User{}
	uQuery := fmt.Sprintf(`%s FROM users WHERE email=$1 LIMIT 1`,
		selectFromUsersTable)

	if err := d.Get(&userResult, uQuery, email); err != nil {
		return User{}, errors.Wrap(err, "could not find user")
	}

	if err := bcrypt.CompareHashAndPassword(
		userResult.HashedPassword, []byte(password)); err != nil {
		return User{}, errors.Wrap(err, "password authentication failed")
	}

	return userResult, nil
}

// InsertUser inserts fields from a user struct into the database.
func InsertUser(i db.Inserter, user User) (User, error) {
	userCreateQuery := `INSERT INTO users
		(email, hashed_password, first_name, last_name)
		VALUES (:email, :hashed_password, :first_name, :last_name) ` +
		returningFromUsersTable

	if len(user.Email) == 0 {
		return User{}, ErrEmailMustBeDefined
	}

	if len(user.HashedPassword) == 0 {
		return User{}, ErrHashedPasswordMustBeDefined
	}

	rows, err := i.NamedQuery(userCreateQuery, user)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Constraint == uniqueEmailConstraint {
			err = ErrEmailMustBeUnique
		}
		return User{}, fmt.Errorf("could not insert user: %w", err)
	}

	userResp, err := scanUser(rows)
	if err != nil {
		return User{}, fmt.Errorf("could not scan user: %w", err)
	}
	return userResp, nil
}

type dbScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

func scanUser(rows dbScanner) (User, error) {
	user := User{}

	if rows.Next() {
		if err := rows.Scan(
			&user.ID,
			&user.Email,
			&user.HashedPassword,
			&user.Firstname,
			&user.Lastname,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return user, errors.Wrap(
				err, "could not scan user returned from DB")
		}
	} else {
		return user, errors.New("given rows did not have any elements")
	}

	if err := rows.Close(); err != nil {
		return user, err
	}

	return user, rows.Err()
}

// hashAndSalt generates a bcrypt hash from a string
func hashAndSalt(password string) ([]byte, error) {
	// hashPasswordCost is how many rounds the password
	// should be hashed. rounds = 1 << hashPasswordCost
	const hashPasswordCost = 12

	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashPasswordCost)
	if err != nil {
		log.WithError(err).Error("could not hash password")
		return nil, err
	}

	return hash, nil
}

// Package directory is the account/authentication collaborator: user
// lookup and PIN re-verification. The settlement core only depends on the
// interface; the postgres implementation lives alongside for wiring.
package directory

import (
	"context"
	"errors"

	"github.com/SamSamskies/coinos-server/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrBadPIN   = errors.New("pin verification failed")
)

type Directory interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	VerifyPIN(ctx context.Context, uid, pin string) error
}

type PG struct {
	Pool *pgxpool.Pool
}

func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{Pool: pool}
}

func (d *PG) UserByID(ctx context.Context, id string) (*models.User, error) {
	return d.scanUser(ctx, `SELECT id, username, currency FROM users WHERE id=$1`, id)
}

func (d *PG) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	return d.scanUser(ctx, `SELECT id, username, currency FROM users WHERE lower(username)=lower($1)`, username)
}

func (d *PG) VerifyPIN(ctx context.Context, uid, pin string) error {
	var hash []byte
	row := d.Pool.QueryRow(ctx, `SELECT pin_hash FROM users WHERE id=$1`, uid)
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(pin)); err != nil {
		return ErrBadPIN
	}
	return nil
}

func (d *PG) scanUser(ctx context.Context, query, arg string) (*models.User, error) {
	var user models.User
	row := d.Pool.QueryRow(ctx, query, arg)
	if err := row.Scan(&user.ID, &user.Username, &user.Currency); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

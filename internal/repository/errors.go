package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStaleTenant means a reassignment lost a race with another writer
	// that moved the document first.
	ErrStaleTenant = errors.New("document tenant changed concurrently")
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

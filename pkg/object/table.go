package object

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingPrimaryKey is returned when a row of a table with a primary key lacks that column.
	ErrMissingPrimaryKey = errors.New("row has no primary key column")
	// ErrInvalidRow is returned for rows that have no canonical encoding, e.g. ones holding NaN.
	ErrInvalidRow = errors.New("row cannot be encoded")
)

// Table describes a table: its name and, optionally, the column holding its primary key.
type Table struct {
	Name       string `json:"name"`
	PrimaryKey string `json:"primaryKey,omitempty"`
}

// HasPrimaryKey reports whether rows of the table are identified by a primary-key column.
func (t Table) HasPrimaryKey() bool { return t.PrimaryKey != "" }

// Key returns the identity of a row in the table. For tables with a primary key this is the
// canonical encoding of the primary-key column, so two versions of the same logical row share
// one key. Otherwise the key is the canonical encoding of the whole row. Rows that cannot be
// encoded are rejected with ErrInvalidRow, since they would never compare equal to themselves.
func (t Table) Key(row Row) ([]byte, error) {
	enc, err := Encode(row)
	if err != nil {
		return nil, fmt.Errorf("table %q: %w: %w", t.Name, ErrInvalidRow, err)
	}
	if !t.HasPrimaryKey() {
		return enc, nil
	}

	pk, ok := row[t.PrimaryKey]
	if !ok {
		return nil, fmt.Errorf("table %q, column %q: %w", t.Name, t.PrimaryKey, ErrMissingPrimaryKey)
	}

	return t.KeyOf(pk)
}

// KeyOf returns the key of the row whose primary-key column holds the given value.
func (t Table) KeyOf(pk any) ([]byte, error) {
	key, err := Encode(pk)
	if err != nil {
		return nil, fmt.Errorf("table %q: %w", t.Name, err)
	}
	return key, nil
}

func (t Table) String() string { return t.Name }

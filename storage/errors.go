package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Common storage errors.
var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("entity already exists")

	// ErrInUse is returned when deleting an entity other rows still reference.
	ErrInUse = errors.New("entity is still referenced")
)

// mapError translates SQLite constraint failures into the package sentinels.
// A foreign key failure means the referenced parent does not exist.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: referenced entity missing", ErrNotFound)
	}
	return err
}

// mapDeleteError is mapError for deletes, where a foreign key failure means
// children still point at the row.
func mapDeleteError(err error) error {
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return fmt.Errorf("%w: %s", ErrInUse, err.Error())
	}
	return mapError(err)
}

// Package repository is the MySQL persistence layer.  The in-memory
// inventory and session manager stay authoritative; repositories load
// the inventory at startup and write every change through.
package repository

import "errors"

// ErrTrainNotFound is returned when a train lookup yields no rows.
var ErrTrainNotFound = errors.New("train not found")

// ErrConflict is returned when seeding would overwrite existing rows.
// Handlers and the server translate it into a refusal to seed.
var ErrConflict = errors.New("conflict")

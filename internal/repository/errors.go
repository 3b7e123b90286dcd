// Package repository contains data access logic separated from HTTP handlers.
// This file defines sentinel errors reused across repositories so that
// handlers can map failure scenarios to HTTP responses.
package repository

import "errors"

// ErrEmailExists is returned when registering with an email that is already
// taken. Handlers translate it into HTTP 409.
var ErrEmailExists = errors.New("email already exists")

// ErrUserNotFound is returned when a user lookup matches no row.
var ErrUserNotFound = errors.New("user not found")

// ErrVehicleNotFound is returned when a vehicle lookup matches no row.
var ErrVehicleNotFound = errors.New("vehicle not found")

// ErrPlateExists is returned when creating or updating a vehicle with a
// plate number that is already registered. Handlers translate it into 409.
var ErrPlateExists = errors.New("plate number already exists")

// ErrDriverTaken is returned when assigning a driver who is already assigned
// to another vehicle. Handlers translate it into 409.
var ErrDriverTaken = errors.New("driver already assigned to a vehicle")

// ErrNoDriverAssigned is returned when unassigning a vehicle that has no
// driver. Handlers translate it into 400.
var ErrNoDriverAssigned = errors.New("no driver assigned")

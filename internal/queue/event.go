// Package queue defines message payloads exchanged over the message broker
// and the background consumer that processes them.
package queue

// VehicleAssignedEvent is published when a driver is assigned to a vehicle.
// It carries enough information for downstream consumers to log or notify
// without querying the primary database.
type VehicleAssignedEvent struct {
	VehicleID   uint64 `json:"vehicle_id"`
	PlateNumber string `json:"plate_number"`
	DriverID    uint64 `json:"driver_id"`
	DriverName  string `json:"driver_name"`
	DriverEmail string `json:"driver_email"`
	AssignedBy  uint64 `json:"assigned_by"`
	AssignedAt  string `json:"assigned_at"`
}

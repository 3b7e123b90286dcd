package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fleet-management/internal/queue"
	"github.com/iliyamo/fleet-management/internal/repository"
	queue_publisher "github.com/iliyamo/fleet-management/internal/service"
)

// VehicleHandler bundles repositories for the fleet endpoints.
type VehicleHandler struct {
	Vehicles *repository.VehicleRepo
	Users    *repository.UserRepo
}

func NewVehicleHandler(vehicles *repository.VehicleRepo, users *repository.UserRepo) *VehicleHandler {
	if vehicles == nil || users == nil {
		panic("nil repository passed to NewVehicleHandler")
	}
	return &VehicleHandler{Vehicles: vehicles, Users: users}
}

// vehicleTypes is the accepted set for the type field.
var vehicleTypes = map[string]bool{
	"car":        true,
	"van":        true,
	"bus":        true,
	"truck":      true,
	"motorcycle": true,
}

type vehicleReq struct {
	PlateNumber  string  `json:"plate_number"`
	Model        string  `json:"model"`
	Manufacturer string  `json:"manufacturer"`
	Year         int     `json:"year"`
	Type         string  `json:"type"`
	SimNumber    string  `json:"sim_number"`
	DeviceID     string  `json:"device_id"`
	DriverID     *uint64 `json:"driver_id"`
}

type assignDriverReq struct {
	DriverID uint64 `json:"driver_id"`
}

type vehicleResp struct {
	ID           uint64    `json:"id"`
	PlateNumber  string    `json:"plate_number"`
	Model        string    `json:"model"`
	Manufacturer string    `json:"manufacturer"`
	Year         int       `json:"year"`
	Type         string    `json:"type"`
	SimNumber    string    `json:"sim_number,omitempty"`
	DeviceID     string    `json:"device_id,omitempty"`
	DriverID     *uint64   `json:"driver_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func vehicleRespOf(v *repository.Vehicle) vehicleResp {
	resp := vehicleResp{
		ID:           v.ID,
		PlateNumber:  v.PlateNumber,
		Model:        v.Model,
		Manufacturer: v.Manufacturer,
		Year:         v.Year,
		Type:         v.Type,
		SimNumber:    v.SimNumber.String,
		DeviceID:     v.DeviceID.String,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
	if v.DriverID.Valid {
		id := uint64(v.DriverID.Int64)
		resp.DriverID = &id
	}
	return resp
}

// validate normalizes the payload in place and returns a client-facing
// message when a field is unacceptable.
func (req *vehicleReq) validate() string {
	req.PlateNumber = strings.ToUpper(strings.TrimSpace(req.PlateNumber))
	req.Model = strings.TrimSpace(req.Model)
	req.Manufacturer = strings.TrimSpace(req.Manufacturer)
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	if req.PlateNumber == "" {
		return "plate_number is required"
	}
	if req.Model == "" || req.Manufacturer == "" {
		return "model and manufacturer are required"
	}
	if req.Year < 1900 || req.Year > time.Now().Year()+1 {
		return "year is out of range"
	}
	if !vehicleTypes[req.Type] {
		return "unknown vehicle type"
	}
	return ""
}

// validateDriver checks the referenced account exists and holds the driver
// role.
func (h *VehicleHandler) validateDriver(ctx context.Context, driverID uint64) (repository.User, string) {
	driver, err := h.Users.GetByID(ctx, driverID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return repository.User{}, "driver not found"
		}
		return repository.User{}, "query failed"
	}
	if driver.Role != "driver" {
		return repository.User{}, "account is not a driver"
	}
	return driver, ""
}

// CreateVehicle handles POST /v1/vehicles.
func (h *VehicleHandler) CreateVehicle(c echo.Context) error {
	var req vehicleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if msg := req.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	v := &repository.Vehicle{
		PlateNumber:  req.PlateNumber,
		Model:        req.Model,
		Manufacturer: req.Manufacturer,
		Year:         req.Year,
		Type:         req.Type,
		SimNumber:    sql.NullString{String: req.SimNumber, Valid: req.SimNumber != ""},
		DeviceID:     sql.NullString{String: req.DeviceID, Valid: req.DeviceID != ""},
	}
	if req.DriverID != nil {
		if _, msg := h.validateDriver(ctx, *req.DriverID); msg != "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
		}
		v.DriverID = sql.NullInt64{Int64: int64(*req.DriverID), Valid: true}
	}

	if err := h.Vehicles.Create(ctx, v); err != nil {
		if errors.Is(err, repository.ErrPlateExists) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "plate number already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not create vehicle"})
	}
	return c.JSON(http.StatusCreated, vehicleRespOf(v))
}

// ListVehicles handles GET /v1/vehicles with pagination, filtering and
// sorting via query parameters.
func (h *VehicleHandler) ListVehicles(c echo.Context) error {
	f := repository.VehicleFilter{
		Type:         strings.ToLower(strings.TrimSpace(c.QueryParam("type"))),
		Manufacturer: strings.TrimSpace(c.QueryParam("manufacturer")),
		Assignment:   strings.ToLower(strings.TrimSpace(c.QueryParam("assignment"))),
		Search:       strings.TrimSpace(c.QueryParam("search")),
		Sort:         strings.TrimSpace(c.QueryParam("sort")),
	}
	f.Page, _ = strconv.Atoi(c.QueryParam("page"))
	f.Limit, _ = strconv.Atoi(c.QueryParam("limit"))
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 10
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, total, err := h.Vehicles.List(ctx, f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "db error"})
	}

	out := make([]vehicleResp, 0, len(items))
	for _, v := range items {
		out = append(out, vehicleRespOf(v))
	}
	totalPages := (total + f.Limit - 1) / f.Limit
	return c.JSON(http.StatusOK, echo.Map{
		"items": out,
		"pagination": echo.Map{
			"total":       total,
			"page":        f.Page,
			"limit":       f.Limit,
			"total_pages": totalPages,
			"has_next":    f.Page < totalPages,
			"has_prev":    f.Page > 1,
		},
	})
}

// GetVehicle handles GET /v1/vehicles/:id.
func (h *VehicleHandler) GetVehicle(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	v, err := h.Vehicles.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrVehicleNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "vehicle not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "db error"})
	}
	return c.JSON(http.StatusOK, vehicleRespOf(v))
}

// UpdateVehicle handles PUT /v1/vehicles/:id. The driver assignment is not
// touched here; use the driver sub-resource.
func (h *VehicleHandler) UpdateVehicle(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req vehicleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if msg := req.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	v := &repository.Vehicle{
		ID:           id,
		PlateNumber:  req.PlateNumber,
		Model:        req.Model,
		Manufacturer: req.Manufacturer,
		Year:         req.Year,
		Type:         req.Type,
		SimNumber:    sql.NullString{String: req.SimNumber, Valid: req.SimNumber != ""},
		DeviceID:     sql.NullString{String: req.DeviceID, Valid: req.DeviceID != ""},
	}
	if err := h.Vehicles.Update(ctx, v); err != nil {
		switch {
		case errors.Is(err, repository.ErrVehicleNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "vehicle not found"})
		case errors.Is(err, repository.ErrPlateExists):
			return c.JSON(http.StatusConflict, echo.Map{"error": "plate number already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	updated, err := h.Vehicles.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "db error"})
	}
	return c.JSON(http.StatusOK, vehicleRespOf(updated))
}

// DeleteVehicle handles DELETE /v1/vehicles/:id.
func (h *VehicleHandler) DeleteVehicle(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Vehicles.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrVehicleNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "vehicle not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// AssignDriver handles POST /v1/vehicles/:id/driver. On success a
// vehicle.assigned event is published; publish failures are logged inside
// the publisher and never fail the request.
func (h *VehicleHandler) AssignDriver(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req assignDriverReq
	if err := c.Bind(&req); err != nil || req.DriverID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "driver_id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	driver, msg := h.validateDriver(ctx, req.DriverID)
	if msg != "" {
		if msg == "driver not found" {
			return c.JSON(http.StatusNotFound, echo.Map{"error": msg})
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}

	if err := h.Vehicles.AssignDriver(ctx, id, req.DriverID); err != nil {
		switch {
		case errors.Is(err, repository.ErrVehicleNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "vehicle not found"})
		case errors.Is(err, repository.ErrDriverTaken):
			return c.JSON(http.StatusConflict, echo.Map{"error": "driver already assigned to a vehicle"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "assign failed"})
	}

	v, err := h.Vehicles.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "db error"})
	}

	assignedBy, _ := getUserID(c)
	_ = queue_publisher.PublishVehicleAssigned(ctx, queue.VehicleAssignedEvent{
		VehicleID:   v.ID,
		PlateNumber: v.PlateNumber,
		DriverID:    driver.ID,
		DriverName:  driver.Name,
		DriverEmail: driver.Email,
		AssignedBy:  assignedBy,
		AssignedAt:  time.Now().UTC().Format(time.RFC3339),
	})

	return c.JSON(http.StatusOK, vehicleRespOf(v))
}

// UnassignDriver handles DELETE /v1/vehicles/:id/driver.
func (h *VehicleHandler) UnassignDriver(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Vehicles.UnassignDriver(ctx, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrVehicleNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "vehicle not found"})
		case errors.Is(err, repository.ErrNoDriverAssigned):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "no driver assigned"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "unassign failed"})
	}

	v, err := h.Vehicles.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "db error"})
	}
	return c.JSON(http.StatusOK, vehicleRespOf(v))
}

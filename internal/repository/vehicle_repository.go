package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Vehicle mirrors the 'vehicles' table. DriverID references users.id and is
// NULL while the vehicle is unassigned.
type Vehicle struct {
	ID           uint64
	PlateNumber  string
	Model        string
	Manufacturer string
	Year         int
	Type         string
	SimNumber    sql.NullString
	DeviceID     sql.NullString
	DriverID     sql.NullInt64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// VehicleFilter narrows and pages List results. Assignment is "", "assigned"
// or "unassigned". Sort accepts a whitelisted column name with an optional
// leading '-' for descending order.
type VehicleFilter struct {
	Type         string
	Manufacturer string
	Assignment   string
	Search       string
	Sort         string
	Page         int
	Limit        int
}

type VehicleRepo struct{ DB *sql.DB }

func NewVehicleRepo(db *sql.DB) *VehicleRepo { return &VehicleRepo{DB: db} }

const vehicleColumns = "id,plate_number,model,manufacturer,year,type,sim_number,device_id,driver_id,created_at,updated_at"

// Create inserts a vehicle and fills in its generated ID and timestamps.
func (r *VehicleRepo) Create(ctx context.Context, v *Vehicle) error {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO vehicles (plate_number, model, manufacturer, year, type, sim_number, device_id, driver_id) VALUES (?,?,?,?,?,?,?,?)",
		v.PlateNumber, v.Model, v.Manufacturer, v.Year, v.Type, v.SimNumber, v.DeviceID, v.DriverID)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return ErrPlateExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	v.ID = uint64(id)
	return r.DB.QueryRowContext(ctx,
		"SELECT created_at, updated_at FROM vehicles WHERE id=?", v.ID).
		Scan(&v.CreatedAt, &v.UpdatedAt)
}

// GetByID fetches a vehicle by id, returning ErrVehicleNotFound when absent.
func (r *VehicleRepo) GetByID(ctx context.Context, id uint64) (*Vehicle, error) {
	var v Vehicle
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+vehicleColumns+" FROM vehicles WHERE id=? LIMIT 1", id).
		Scan(&v.ID, &v.PlateNumber, &v.Model, &v.Manufacturer, &v.Year, &v.Type,
			&v.SimNumber, &v.DeviceID, &v.DriverID, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVehicleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// sortColumns whitelists sortable fields to keep user input out of SQL.
var sortColumns = map[string]string{
	"created_at":   "created_at",
	"year":         "year",
	"plate_number": "plate_number",
	"manufacturer": "manufacturer",
}

// List returns one page of vehicles matching the filter plus the total match
// count for pagination.
func (r *VehicleRepo) List(ctx context.Context, f VehicleFilter) ([]*Vehicle, int, error) {
	where := []string{"1=1"}
	args := []any{}

	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Manufacturer != "" {
		where = append(where, "manufacturer LIKE ?")
		args = append(args, "%"+f.Manufacturer+"%")
	}
	switch f.Assignment {
	case "assigned":
		where = append(where, "driver_id IS NOT NULL")
	case "unassigned":
		where = append(where, "driver_id IS NULL")
	}
	if f.Search != "" {
		where = append(where, "(plate_number LIKE ? OR model LIKE ? OR manufacturer LIKE ?)")
		s := "%" + f.Search + "%"
		args = append(args, s, s, s)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vehicles WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "created_at DESC"
	if f.Sort != "" {
		dir := "ASC"
		col := f.Sort
		if strings.HasPrefix(col, "-") {
			dir = "DESC"
			col = col[1:]
		}
		if mapped, ok := sortColumns[col]; ok {
			order = mapped + " " + dir
		}
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := f.Limit
	if limit < 1 || limit > 100 {
		limit = 10
	}
	q := fmt.Sprintf("SELECT %s FROM vehicles WHERE %s ORDER BY %s LIMIT ? OFFSET ?",
		vehicleColumns, cond, order)
	args = append(args, limit, (page-1)*limit)

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Vehicle
	for rows.Next() {
		v := new(Vehicle)
		if err := rows.Scan(&v.ID, &v.PlateNumber, &v.Model, &v.Manufacturer, &v.Year,
			&v.Type, &v.SimNumber, &v.DeviceID, &v.DriverID, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Update rewrites the vehicle's editable fields. The driver assignment is
// managed separately via AssignDriver/UnassignDriver.
func (r *VehicleRepo) Update(ctx context.Context, v *Vehicle) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE vehicles
		 SET plate_number=?, model=?, manufacturer=?, year=?, type=?, sim_number=?, device_id=?, updated_at=CURRENT_TIMESTAMP
		 WHERE id=?`,
		v.PlateNumber, v.Model, v.Manufacturer, v.Year, v.Type, v.SimNumber, v.DeviceID, v.ID)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return ErrPlateExists
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVehicleNotFound
	}
	return nil
}

// Delete removes a vehicle.
func (r *VehicleRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM vehicles WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVehicleNotFound
	}
	return nil
}

// AssignDriver attaches a driver to a vehicle inside a transaction. A driver
// may be assigned to at most one vehicle. Both reads are locking reads: the
// driver scan has to hold its range lock too, so that a concurrent
// assignment of the same driver to another vehicle blocks until commit
// instead of reading a stale snapshot.
func (r *VehicleRepo) AssignDriver(ctx context.Context, vehicleID, driverID uint64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			_ = tx.Commit()
		}
	}()

	var exists uint64
	if err = tx.QueryRowContext(ctx, "SELECT id FROM vehicles WHERE id=? FOR UPDATE", vehicleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrVehicleNotFound
		}
		return err
	}

	var taken uint64
	row := tx.QueryRowContext(ctx, "SELECT id FROM vehicles WHERE driver_id=? AND id<>? LIMIT 1 FOR UPDATE", driverID, vehicleID)
	switch scanErr := row.Scan(&taken); {
	case scanErr == nil:
		err = ErrDriverTaken
		return err
	case !errors.Is(scanErr, sql.ErrNoRows):
		err = scanErr
		return err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE vehicles SET driver_id=?, updated_at=CURRENT_TIMESTAMP WHERE id=?",
		driverID, vehicleID)
	return err
}

// UnassignDriver detaches the current driver. Returns ErrNoDriverAssigned
// when the vehicle has none.
func (r *VehicleRepo) UnassignDriver(ctx context.Context, vehicleID uint64) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE vehicles SET driver_id=NULL, updated_at=CURRENT_TIMESTAMP WHERE id=? AND driver_id IS NOT NULL",
		vehicleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the vehicle is missing or nothing was assigned.
		if _, getErr := r.GetByID(ctx, vehicleID); getErr != nil {
			return getErr
		}
		return ErrNoDriverAssigned
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVehicleRepoMock(t *testing.T) (*VehicleRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewVehicleRepo(db), mock
}

func vehicleRows(ids ...uint64) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "plate_number", "model", "manufacturer", "year", "type",
		"sim_number", "device_id", "driver_id", "created_at", "updated_at",
	})
	now := time.Now()
	for _, id := range ids {
		rows.AddRow(id, "ABC-1234", "Camry", "Toyota", 2023, "car", nil, nil, nil, now, now)
	}
	return rows
}

func TestVehicleRepo_GetByID_NotFound(t *testing.T) {
	t.Parallel()

	repo, mock := newVehicleRepoMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + vehicleColumns + " FROM vehicles WHERE id=?")).
		WithArgs(uint64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), 404)
	assert.ErrorIs(t, err, ErrVehicleNotFound)
}

func TestVehicleRepo_Create_DuplicatePlate(t *testing.T) {
	t.Parallel()

	repo, mock := newVehicleRepoMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO vehicles")).
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry 'ABC-1234' for key 'vehicles.plate_number'"))

	v := &Vehicle{PlateNumber: "ABC-1234", Model: "Camry", Manufacturer: "Toyota", Year: 2023, Type: "car"}
	err := repo.Create(context.Background(), v)
	assert.ErrorIs(t, err, ErrPlateExists)
}

func TestVehicleRepo_List_FiltersAndPaginates(t *testing.T) {
	t.Parallel()

	repo, mock := newVehicleRepoMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM vehicles WHERE 1=1 AND type = ? AND driver_id IS NULL")).
		WithArgs("van").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY year DESC LIMIT ? OFFSET ?")).
		WithArgs("van", 5, 5).
		WillReturnRows(vehicleRows(6, 7, 8, 9, 10))

	items, total, err := repo.List(context.Background(), VehicleFilter{
		Type:       "van",
		Assignment: "unassigned",
		Sort:       "-year",
		Page:       2,
		Limit:      5,
	})
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	assert.Len(t, items, 5)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleRepo_List_IgnoresUnknownSortColumn(t *testing.T) {
	t.Parallel()

	repo, mock := newVehicleRepoMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM vehicles")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	// Injection attempts in sort fall back to the default ordering.
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT ? OFFSET ?")).
		WithArgs(10, 0).
		WillReturnRows(vehicleRows(1))

	_, _, err := repo.List(context.Background(), VehicleFilter{Sort: "1;DROP TABLE vehicles"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleRepo_AssignDriver_DriverTaken(t *testing.T) {
	t.Parallel()

	repo, mock := newVehicleRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM vehicles WHERE id=? FOR UPDATE")).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM vehicles WHERE driver_id=? AND id<>? LIMIT 1 FOR UPDATE")).
		WithArgs(uint64(33), uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectRollback()

	err := repo.AssignDriver(context.Background(), 1, 33)
	assert.ErrorIs(t, err, ErrDriverTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleRepo_AssignDriver_Succeeds(t *testing.T) {
	t.Parallel()

	repo, mock := newVehicleRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM vehicles WHERE id=? FOR UPDATE")).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM vehicles WHERE driver_id=? AND id<>? LIMIT 1 FOR UPDATE")).
		WithArgs(uint64(33), uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE vehicles SET driver_id=?")).
		WithArgs(uint64(33), uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.AssignDriver(context.Background(), 1, 33))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleRepo_UnassignDriver_NothingAssigned(t *testing.T) {
	t.Parallel()

	repo, mock := newVehicleRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE vehicles SET driver_id=NULL")).
		WithArgs(uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + vehicleColumns + " FROM vehicles WHERE id=?")).
		WithArgs(uint64(1)).
		WillReturnRows(vehicleRows(1))

	err := repo.UnassignDriver(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoDriverAssigned)
}

func TestVehicleRepo_Update_NotFound(t *testing.T) {
	t.Parallel()

	repo, mock := newVehicleRepoMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE vehicles")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &Vehicle{ID: 404, PlateNumber: "X", Model: "m", Manufacturer: "f", Year: 2000, Type: "car", SimNumber: sql.NullString{}, DeviceID: sql.NullString{}})
	assert.ErrorIs(t, err, ErrVehicleNotFound)
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/streetview-ingestor/internal/ingest"
)

func TestNewRecordStoreValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStore(mock, "")
	require.NoError(t, err)
	require.Equal(t, DefaultRecordTable, store.table)

	_, err = NewRecordStore(mock, "images; DROP TABLE users")
	require.Error(t, err)

	_, err = NewRecordStore(nil, "images")
	require.Error(t, err)
}

func TestRecordStoreExists(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStore(mock, "street_view_images")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(43.6532, -79.3832, 90).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(43.6532, -79.3832, 180).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	found, err := store.Exists(context.Background(), 43.6532, -79.3832, 90)
	require.NoError(t, err)
	require.True(t, found)

	found, err = store.Exists(context.Background(), 43.6532, -79.3832, 180)
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreExistsQueryError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStore(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(1.0, 2.0, 0).
		WillReturnError(errors.New("connection reset"))

	_, err = store.Exists(context.Background(), 1, 2, 0)
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStore(mock, "street_view_images")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := ingest.ImageryRecord{
		Lat:       43.6532,
		Lon:       -79.3832,
		Heading:   270,
		Pitch:     0,
		FOV:       90,
		ImageURL:  "https://storage.googleapis.com/bucket/streetview_43.6532_-79.3832_270.jpg",
		RunID:     "run-1",
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO street_view_images").
		WithArgs(rec.Lat, rec.Lon, rec.Heading, rec.Pitch, rec.FOV, rec.ImageURL, rec.RunID, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreInsertDefaultsCreatedAt(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStore(mock, "")
	require.NoError(t, err)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	rec := ingest.ImageryRecord{Lat: 1, Lon: 2, Heading: 0, FOV: 90, ImageURL: "memory://a.jpg"}
	mock.ExpectExec("INSERT INTO street_view_images").
		WithArgs(1.0, 2.0, 0, 0, 90, "memory://a.jpg", "", fixed).
		WillReturnError(errors.New("unique violation"))

	require.ErrorContains(t, store.Insert(context.Background(), rec), "unique violation")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStore(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS street_view_images").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

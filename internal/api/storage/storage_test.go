package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/fractal-pipeline/internal/api/model"
	"github.com/cuongbtq/fractal-pipeline/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testID       = "13bf15a8-9f6c-4d59-956f-7d20f7484687"
	testChecksum = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
)

var columns = []string{
	"id", "width", "height", "iterations", "xa", "xb", "ya", "yb",
	"checksum", "duration", "size", "generated_by", "created_at", "updated_at",
}

var (
	completeQuery = regexp.QuoteMeta("UPDATE fractals SET") + ".*" +
		regexp.QuoteMeta("WHERE id = $1 AND (checksum IS NULL OR checksum = $2)")
	existsQuery = regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM fractals WHERE id = $1)")
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	return &Storage{db: sqlx.NewDb(db, "postgres")}, mock
}

func completedRow(id string, createdAt time.Time) []driver.Value {
	return []driver.Value{
		id, 100, 100, 10, 1.0, -1.0, 1.0, -1.0,
		testChecksum, 1.5, int64(2048), "worker-1", createdAt, createdAt,
	}
}

func TestStorage_CompleteFractal(t *testing.T) {
	completion := Completion{Checksum: testChecksum, Duration: 1.5, GeneratedBy: "worker-1"}
	createdAt := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name    string
		expect  func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "pending record or same checksum",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(completeQuery).
					WithArgs(testID, testChecksum, 1.5, nil, sqlmock.AnyArg(), "worker-1", sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows(columns).AddRow(completedRow(testID, createdAt)...))
			},
		},
		{
			name: "finalized with another checksum",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(completeQuery).WillReturnRows(sqlmock.NewRows(columns))
				mock.ExpectQuery(existsQuery).WithArgs(testID).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
			wantErr: domain.ErrRecordFinalized,
		},
		{
			name: "unknown record",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(completeQuery).WillReturnRows(sqlmock.NewRows(columns))
				mock.ExpectQuery(existsQuery).WithArgs(testID).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
			},
			wantErr: domain.ErrRecordNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStorage(t)
			tt.expect(mock)

			fractal, err := store.CompleteFractal(context.Background(), testID, completion)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, fractal)
				return
			}

			require.NoError(t, err)
			require.True(t, fractal.Completed())
			assert.Equal(t, testChecksum, *fractal.Checksum)
			assert.Equal(t, int64(2048), *fractal.Size)
			assert.Equal(t, "worker-1", *fractal.GeneratedBy)
		})
	}
}

func TestStorage_CompleteFractal_DatabaseError(t *testing.T) {
	store, mock := newMockStorage(t)
	mock.ExpectQuery(completeQuery).WillReturnError(errors.New("connection reset by peer"))

	_, err := store.CompleteFractal(context.Background(), testID, Completion{Checksum: testChecksum})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to complete fractal")
	assert.NotErrorIs(t, err, domain.ErrRecordFinalized)
	assert.NotErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestStorage_ListFractals(t *testing.T) {
	cursorAt := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	older := cursorAt.Add(-time.Minute)

	tests := []struct {
		name   string
		filter FractalFilter
		query  string
		args   []driver.Value
	}{
		{
			name:   "first page",
			filter: FractalFilter{PageSize: 10},
			query:  "FROM fractals WHERE 1=1 ORDER BY created_at DESC, id DESC LIMIT $1",
			args:   []driver.Value{11},
		},
		{
			name: "completed after cursor",
			filter: FractalFilter{
				Completed: true,
				PageSize:  2,
				Cursor:    &FractalCursor{CreatedAt: cursorAt, ID: testID},
			},
			query: "FROM fractals WHERE 1=1 AND checksum IS NOT NULL AND (created_at, id) < ($1, $2) " +
				"ORDER BY created_at DESC, id DESC LIMIT $3",
			args: []driver.Value{cursorAt, testID, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStorage(t)

			mock.ExpectQuery(regexp.QuoteMeta(tt.query)).
				WithArgs(tt.args...).
				WillReturnRows(sqlmock.NewRows(columns).AddRow(completedRow("00000000-0000-4000-8000-000000000001", older)...))

			fractals, err := store.ListFractals(context.Background(), tt.filter)
			require.NoError(t, err)
			require.Len(t, fractals, 1)
			assert.True(t, fractals[0].CreatedAt.Equal(older))
		})
	}
}

func TestStorage_CreateFractal_Duplicate(t *testing.T) {
	store, mock := newMockStorage(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fractals")).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := store.CreateFractal(context.Background(), &model.Fractal{ID: testID, Width: 100, Height: 100, Iterations: 10})
	assert.ErrorIs(t, err, domain.ErrRecordExists)
}

func TestStorage_DeleteFractal_Missing(t *testing.T) {
	store, mock := newMockStorage(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM fractals WHERE id = $1")).
		WithArgs(testID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.DeleteFractal(context.Background(), testID), domain.ErrRecordNotFound)
}

package recordclient_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/fractal-pipeline/internal/api/handler"
	"github.com/cuongbtq/fractal-pipeline/internal/api/router"
	"github.com/cuongbtq/fractal-pipeline/internal/api/storage/storagetest"
	"github.com/cuongbtq/fractal-pipeline/internal/domain"
	"github.com/cuongbtq/fractal-pipeline/internal/recordclient"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecordService(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := httptest.NewServer(router.SetupRouter(&handler.Dependencies{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:  storagetest.NewMemoryStore(),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testJob() domain.Job {
	return domain.Job{
		ID:         "13bf15a8-9f6c-4d59-956f-7d20f7484687",
		Width:      100,
		Height:     100,
		Iterations: 10,
		XA:         1,
		XB:         -1,
		YA:         1,
		YB:         -1,
	}
}

func TestClient_RoundTrip(t *testing.T) {
	srv := newRecordService(t)
	client := recordclient.New(srv.URL+"/", time.Second)
	ctx := context.Background()
	job := testJob()

	require.NoError(t, client.Register(ctx, job))
	assert.ErrorIs(t, client.Register(ctx, job), domain.ErrRecordExists)

	result := domain.RenderResult{
		JobID:       job.ID,
		Duration:    1500 * time.Millisecond,
		Checksum:    strings.Repeat("c", 64),
		Image:       []byte("png"),
		Size:        3,
		GeneratedBy: "worker-a",
	}
	require.NoError(t, client.Complete(ctx, result))
	require.NoError(t, client.Complete(ctx, result), "repeating the same result is accepted")

	fractal, err := client.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, fractal.Completed)
	assert.Equal(t, result.Checksum, fractal.Checksum)
	require.NotNil(t, fractal.Duration)
	assert.InDelta(t, 1.5, *fractal.Duration, 1e-9)
	assert.Equal(t, "worker-a", fractal.GeneratedBy)

	conflicting := result
	conflicting.Checksum = strings.Repeat("d", 64)
	err = client.Complete(ctx, conflicting)
	assert.ErrorIs(t, err, domain.ErrRecordFinalized)
	assert.False(t, domain.IsRetryable(err))
}

func TestClient_Errors(t *testing.T) {
	srv := newRecordService(t)
	client := recordclient.New(srv.URL, time.Second)
	ctx := context.Background()

	t.Run("complete unknown record", func(t *testing.T) {
		err := client.Complete(ctx, domain.RenderResult{
			JobID:    "00000000-0000-4000-8000-000000000000",
			Checksum: strings.Repeat("e", 64),
		})
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("get unknown record", func(t *testing.T) {
		_, err := client.Get(ctx, "00000000-0000-4000-8000-000000000000")
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("register invalid job", func(t *testing.T) {
		job := testJob()
		job.Height = 1
		err := client.Register(ctx, job)
		assert.ErrorIs(t, err, domain.ErrInvalidJob)
		assert.False(t, domain.IsRetryable(err))
	})

	t.Run("malformed result", func(t *testing.T) {
		require.NoError(t, client.Register(ctx, testJob()))
		err := client.Complete(ctx, domain.RenderResult{JobID: testJob().ID, Checksum: "short"})
		assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	})
}

func TestClient_RetryableFailures(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		err := recordclient.New(srv.URL, time.Second).Register(context.Background(), testJob())
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err))
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		err := recordclient.New(url, time.Second).Complete(context.Background(), domain.RenderResult{JobID: testJob().ID})
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err))
	})
}

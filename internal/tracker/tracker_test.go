package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/fractal-pipeline/internal/api/handler"
	"github.com/cuongbtq/fractal-pipeline/internal/api/model"
	"github.com/cuongbtq/fractal-pipeline/internal/api/router"
	"github.com/cuongbtq/fractal-pipeline/internal/api/storage"
	"github.com/cuongbtq/fractal-pipeline/internal/api/storage/storagetest"
	"github.com/cuongbtq/fractal-pipeline/internal/domain"
	"github.com/cuongbtq/fractal-pipeline/internal/message"
	"github.com/cuongbtq/fractal-pipeline/internal/recordclient"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobID = "13bf15a8-9f6c-4d59-956f-7d20f7484687"

var checksum = strings.Repeat("ab", 32)

type ackEvent struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	events chan ackEvent
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{events: make(chan ackEvent, 16)}
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.events <- ackEvent{tag: tag, ack: true}
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	f.events <- ackEvent{tag: tag, requeue: requeue}
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcknowledger) next(t *testing.T) ackEvent {
	t.Helper()
	select {
	case ev := <-f.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ack or nack")
		return ackEvent{}
	}
}

type fakeSource struct {
	mu         sync.Mutex
	channels   []chan amqp.Delivery
	consumes   int
	reconnects int
}

func newFakeSource(n int) *fakeSource {
	s := &fakeSource{}
	for i := 0; i < n; i++ {
		s.channels = append(s.channels, make(chan amqp.Delivery, 8))
	}
	return s
}

func (s *fakeSource) Consume(string, int) (<-chan amqp.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.consumes >= len(s.channels) {
		return nil, errors.New("no more channels")
	}
	ch := s.channels[s.consumes]
	s.consumes++
	return ch, nil
}

func (s *fakeSource) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}

type reconcilerFunc func(ctx context.Context, result domain.RenderResult) error

func (f reconcilerFunc) Reconcile(ctx context.Context, result domain.RenderResult) error {
	return f(ctx, result)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func renderResult() domain.RenderResult {
	return domain.RenderResult{
		JobID:       jobID,
		Duration:    1500 * time.Millisecond,
		Checksum:    checksum,
		Image:       []byte("png bytes"),
		GeneratedBy: "render-01",
	}
}

func resultDelivery(t *testing.T, ack amqp.Acknowledger, tag uint64, result domain.RenderResult, contentType string) amqp.Delivery {
	t.Helper()
	env, err := message.EncodeResult(result, contentType)
	require.NoError(t, err)

	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		ContentType:  env.ContentType,
		Headers:      env.Headers(),
		Body:         env.Body,
	}
}

func startTracker(t *testing.T, source Source, reconciler Reconciler) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	tr := New(&Config{
		Logger:      discardLogger(),
		Source:      source,
		Reconciler:  reconciler,
		ConsumerTag: "tracker-test",
	})
	go func() { done <- tr.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("tracker did not stop")
		}
	})
}

func seedRecord(t *testing.T, store *storagetest.MemoryStore) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.CreateFractal(context.Background(), &model.Fractal{
		ID: jobID, Width: 100, Height: 100, Iterations: 10,
		XA: 1, XB: -1, YA: 1, YB: -1,
		CreatedAt: now, UpdatedAt: now,
	}))
}

func TestTracker_DatabaseMode(t *testing.T) {
	for _, contentType := range []string{message.ContentTypeJSON, message.ContentTypeGob} {
		t.Run(contentType, func(t *testing.T) {
			store := storagetest.NewMemoryStore()
			seedRecord(t, store)

			ack := newFakeAcknowledger()
			source := newFakeSource(1)
			startTracker(t, source, NewDatabaseReconciler(store))

			source.channels[0] <- resultDelivery(t, ack, 1, renderResult(), contentType)
			assert.Equal(t, ackEvent{tag: 1, ack: true}, ack.next(t))

			fractal, err := store.GetFractal(context.Background(), jobID)
			require.NoError(t, err)
			require.True(t, fractal.Completed())
			assert.Equal(t, checksum, *fractal.Checksum)
			assert.InDelta(t, 1.5, *fractal.Duration, 1e-9)
			assert.Equal(t, int64(len("png bytes")), *fractal.Size)
			assert.Equal(t, "render-01", *fractal.GeneratedBy)

			image, err := store.GetFractalImage(context.Background(), jobID)
			require.NoError(t, err)
			assert.Equal(t, []byte("png bytes"), image)
		})
	}
}

func TestTracker_APIMode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := storagetest.NewMemoryStore()
	srv := httptest.NewServer(router.SetupRouter(&handler.Dependencies{
		Logger: discardLogger(),
		Store:  store,
	}))
	defer srv.Close()

	records := recordclient.New(srv.URL, 5*time.Second)
	require.NoError(t, records.Register(context.Background(), domain.Job{
		ID: jobID, Width: 100, Height: 100, Iterations: 10,
		XA: 1, XB: -1, YA: 1, YB: -1,
	}))

	ack := newFakeAcknowledger()
	source := newFakeSource(1)
	startTracker(t, source, NewAPIReconciler(records))

	source.channels[0] <- resultDelivery(t, ack, 1, renderResult(), message.ContentTypeJSON)
	assert.Equal(t, ackEvent{tag: 1, ack: true}, ack.next(t))

	fractal, err := records.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.True(t, fractal.Completed)
	assert.Equal(t, checksum, fractal.Checksum)

	// same result again is idempotent, a different one is swallowed
	source.channels[0] <- resultDelivery(t, ack, 2, renderResult(), message.ContentTypeJSON)
	assert.Equal(t, ackEvent{tag: 2, ack: true}, ack.next(t))

	other := renderResult()
	other.Checksum = strings.Repeat("cd", 32)
	source.channels[0] <- resultDelivery(t, ack, 3, other, message.ContentTypeJSON)
	assert.Equal(t, ackEvent{tag: 3, ack: true}, ack.next(t))

	fractal, err = records.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, checksum, fractal.Checksum)
}

func TestTracker_UnknownJobIsAcked(t *testing.T) {
	ack := newFakeAcknowledger()
	source := newFakeSource(1)
	startTracker(t, source, NewDatabaseReconciler(storagetest.NewMemoryStore()))

	source.channels[0] <- resultDelivery(t, ack, 4, renderResult(), message.ContentTypeJSON)
	assert.Equal(t, ackEvent{tag: 4, ack: true}, ack.next(t))
}

func TestTracker_Failures(t *testing.T) {
	badChecksum := renderResult()
	badChecksum.Checksum = "not-a-checksum"

	badID := renderResult()
	badID.JobID = "not-a-uuid"

	tests := []struct {
		name       string
		delivery   func(t *testing.T, ack amqp.Acknowledger) amqp.Delivery
		reconciler Reconciler
		want       ackEvent
	}{
		{
			name: "malformed body",
			delivery: func(_ *testing.T, ack amqp.Acknowledger) amqp.Delivery {
				return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, ContentType: message.ContentTypeJSON, Body: []byte("[]")}
			},
			want: ackEvent{tag: 1, requeue: false},
		},
		{
			name: "unknown content type",
			delivery: func(_ *testing.T, ack amqp.Acknowledger) amqp.Delivery {
				return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, ContentType: "application/xml", Body: []byte("<result/>")}
			},
			want: ackEvent{tag: 1, requeue: false},
		},
		{
			name: "invalid checksum",
			delivery: func(t *testing.T, ack amqp.Acknowledger) amqp.Delivery {
				return resultDelivery(t, ack, 1, badChecksum, message.ContentTypeJSON)
			},
			want: ackEvent{tag: 1, requeue: false},
		},
		{
			name: "invalid job id",
			delivery: func(t *testing.T, ack amqp.Acknowledger) amqp.Delivery {
				return resultDelivery(t, ack, 1, badID, message.ContentTypeGob)
			},
			want: ackEvent{tag: 1, requeue: false},
		},
		{
			name: "transport failure",
			delivery: func(t *testing.T, ack amqp.Acknowledger) amqp.Delivery {
				return resultDelivery(t, ack, 1, renderResult(), message.ContentTypeJSON)
			},
			reconciler: reconcilerFunc(func(context.Context, domain.RenderResult) error {
				return domain.NewRetryableError(errors.New("connection refused"))
			}),
			want: ackEvent{tag: 1, requeue: true},
		},
		{
			name: "rejected payload",
			delivery: func(t *testing.T, ack amqp.Acknowledger) amqp.Delivery {
				return resultDelivery(t, ack, 1, renderResult(), message.ContentTypeJSON)
			},
			reconciler: reconcilerFunc(func(context.Context, domain.RenderResult) error {
				return domain.ErrInvalidPayload
			}),
			want: ackEvent{tag: 1, ack: true},
		},
		{
			name: "unexpected reconcile error",
			delivery: func(t *testing.T, ack amqp.Acknowledger) amqp.Delivery {
				return resultDelivery(t, ack, 1, renderResult(), message.ContentTypeGob)
			},
			reconciler: reconcilerFunc(func(context.Context, domain.RenderResult) error {
				return errors.New("complete: unexpected status 403")
			}),
			want: ackEvent{tag: 1, ack: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reconciler := tt.reconciler
			if reconciler == nil {
				reconciler = reconcilerFunc(func(context.Context, domain.RenderResult) error {
					t.Error("reconciler should not be called")
					return nil
				})
			}

			ack := newFakeAcknowledger()
			source := newFakeSource(1)
			startTracker(t, source, reconciler)

			source.channels[0] <- tt.delivery(t, ack)
			assert.Equal(t, tt.want, ack.next(t))
		})
	}
}

func TestTracker_ResubscribesAfterChannelClose(t *testing.T) {
	store := storagetest.NewMemoryStore()
	seedRecord(t, store)

	ack := newFakeAcknowledger()
	source := newFakeSource(2)
	startTracker(t, source, NewDatabaseReconciler(store))

	close(source.channels[0])
	source.channels[1] <- resultDelivery(t, ack, 9, renderResult(), message.ContentTypeJSON)
	assert.Equal(t, ackEvent{tag: 9, ack: true}, ack.next(t))

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, 1, source.reconnects)
}

func TestDatabaseReconciler_WrapsStoreFailures(t *testing.T) {
	err := NewDatabaseReconciler(failingStore{MemoryStore: storagetest.NewMemoryStore()}).
		Reconcile(context.Background(), renderResult())

	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

type failingStore struct {
	*storagetest.MemoryStore
}

func (failingStore) CompleteFractal(context.Context, string, storage.Completion) (*model.Fractal, error) {
	return nil, errors.New("connection reset by peer")
}

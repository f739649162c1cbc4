package message

import (
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/fractal-pipeline/internal/domain"
)

var sampleJob = domain.Job{
	ID:         "13bf15a8-9f6c-4d59-956f-7d20f7484687",
	Width:      100,
	Height:     100,
	Iterations: 10,
	XA:         1.0,
	XB:         -1.0,
	YA:         1.0,
	YB:         -1.0,
}

func TestJob_BothFormatsDecode(t *testing.T) {
	for _, contentType := range []string{ContentTypeJSON, ContentTypeGob} {
		t.Run(contentType, func(t *testing.T) {
			env, err := EncodeJob(sampleJob, contentType)
			require.NoError(t, err)
			assert.Equal(t, contentType, env.ContentType)
			assert.Equal(t, SchemaVersion, env.Version)

			job, err := DecodeJob(env)
			require.NoError(t, err)
			assert.Equal(t, sampleJob, job)
		})
	}
}

func TestDecodeJob_PlainJSONBody(t *testing.T) {
	body := `{"uuid":"13bf15a8-9f6c-4d59-956f-7d20f7484687","width":100,"height":100,` +
		`"iterations":10,"xa":1.0,"xb":-1.0,"ya":1.0,"yb":-1.0}`

	job, err := DecodeJob(Envelope{ContentType: ContentTypeJSON, Version: 1, Body: []byte(body)})
	require.NoError(t, err)
	assert.Equal(t, sampleJob, job)
}

func TestDecodeJob_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr error
	}{
		{
			name:    "unknown content type",
			env:     Envelope{ContentType: "application/python-pickle", Version: 1, Body: []byte("x")},
			wantErr: domain.ErrUnsupportedFormat,
		},
		{
			name:    "missing content type",
			env:     Envelope{Version: 1, Body: []byte("{}")},
			wantErr: domain.ErrUnsupportedFormat,
		},
		{
			name:    "future schema version",
			env:     Envelope{ContentType: ContentTypeJSON, Version: 2, Body: []byte("{}")},
			wantErr: domain.ErrUnsupportedFormat,
		},
		{
			name:    "malformed json",
			env:     Envelope{ContentType: ContentTypeJSON, Version: 1, Body: []byte("{not json")},
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name:    "garbage gob",
			env:     Envelope{ContentType: ContentTypeGob, Version: 1, Body: []byte("definitely not gob")},
			wantErr: domain.ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJob(tt.env)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestResult_BothFormatsDecode(t *testing.T) {
	result := domain.RenderResult{
		JobID:       sampleJob.ID,
		Duration:    1500 * time.Millisecond,
		Checksum:    "c6fef4ef13a577066c2281b53c82ce2c7e94e",
		Image:       []byte{0x89, 'P', 'N', 'G'},
		Size:        4,
		GeneratedBy: "worker-1",
	}

	for _, contentType := range []string{ContentTypeJSON, ContentTypeGob} {
		t.Run(contentType, func(t *testing.T) {
			env, err := EncodeResult(result, contentType)
			require.NoError(t, err)

			decoded, err := DecodeResult(env)
			require.NoError(t, err)
			assert.Equal(t, result, decoded)
		})
	}
}

func TestDecodeResult_OptionalFieldsOmitted(t *testing.T) {
	body := `{"uuid":"13bf15a8-9f6c-4d59-956f-7d20f7484687","duration":10.12,"checksum":"abc"}`

	result, err := DecodeResult(Envelope{ContentType: ContentTypeJSON, Version: 1, Body: []byte(body)})
	require.NoError(t, err)
	assert.Equal(t, "abc", result.Checksum)
	assert.InDelta(t, 10.12, result.DurationSeconds(), 1e-9)
	assert.Nil(t, result.Image)
	assert.Zero(t, result.Size)
	assert.Empty(t, result.GeneratedBy)
}

func TestDecodeResult_MissingUUID(t *testing.T) {
	_, err := DecodeResult(Envelope{ContentType: ContentTypeJSON, Version: 1, Body: []byte(`{"checksum":"abc"}`)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidPayload))
}

func TestFromDelivery(t *testing.T) {
	tests := []struct {
		name        string
		delivery    amqp.Delivery
		wantVersion int
	}{
		{
			name:        "int32 header",
			delivery:    amqp.Delivery{ContentType: ContentTypeJSON, Headers: amqp.Table{HeaderSchemaVersion: int32(1)}},
			wantVersion: 1,
		},
		{
			name:        "int64 header",
			delivery:    amqp.Delivery{ContentType: ContentTypeJSON, Headers: amqp.Table{HeaderSchemaVersion: int64(3)}},
			wantVersion: 3,
		},
		{
			name:        "no header defaults to current version",
			delivery:    amqp.Delivery{ContentType: ContentTypeGob},
			wantVersion: SchemaVersion,
		},
		{
			name:        "non numeric header",
			delivery:    amqp.Delivery{ContentType: ContentTypeJSON, Headers: amqp.Table{HeaderSchemaVersion: "one"}},
			wantVersion: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := FromDelivery(tt.delivery)
			assert.Equal(t, tt.delivery.ContentType, env.ContentType)
			assert.Equal(t, tt.wantVersion, env.Version)
		})
	}
}

func TestEnvelope_Headers(t *testing.T) {
	env := Envelope{ContentType: ContentTypeJSON, Version: SchemaVersion}
	assert.Equal(t, amqp.Table{HeaderSchemaVersion: int32(1)}, env.Headers())
}

// Package message defines the wire contracts carried on the job and result
// queues. Every message is tagged with a content type and a schema version;
// decoding dispatches on that tag rather than sniffing the body.
package message

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/fractal-pipeline/internal/domain"
)

const (
	// HeaderSchemaVersion carries the schema version of the body
	HeaderSchemaVersion = "x-schema-version"

	// SchemaVersion is the current (and only) version of the job and result schemas
	SchemaVersion = 1
)

// Envelope is a tagged, encoded message independent of the broker
type Envelope struct {
	ContentType string
	Version     int
	Body        []byte
}

// Headers returns the AMQP headers that carry the envelope tag
func (e Envelope) Headers() amqp.Table {
	return amqp.Table{HeaderSchemaVersion: int32(e.Version)}
}

// FromDelivery reads the envelope tag from an AMQP delivery. Messages without
// a version header are treated as version 1.
func FromDelivery(d amqp.Delivery) Envelope {
	env := Envelope{
		ContentType: d.ContentType,
		Version:     SchemaVersion,
		Body:        d.Body,
	}

	if v, ok := d.Headers[HeaderSchemaVersion]; ok {
		switch n := v.(type) {
		case int32:
			env.Version = int(n)
		case int64:
			env.Version = int(n)
		case int:
			env.Version = n
		default:
			env.Version = -1
		}
	}

	return env
}

// JobMessage is the job queue body
type JobMessage struct {
	UUID       string  `json:"uuid"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Iterations int     `json:"iterations"`
	XA         float64 `json:"xa"`
	XB         float64 `json:"xb"`
	YA         float64 `json:"ya"`
	YB         float64 `json:"yb"`
}

// ResultMessage is the result queue body. Duration is in seconds.
type ResultMessage struct {
	UUID        string  `json:"uuid"`
	Duration    float64 `json:"duration"`
	Checksum    string  `json:"checksum"`
	Image       []byte  `json:"image,omitempty"`
	Size        int64   `json:"size,omitempty"`
	GeneratedBy string  `json:"generated_by,omitempty"`
}

// EncodeJob encodes a job with the codec registered for contentType
func EncodeJob(job domain.Job, contentType string) (Envelope, error) {
	msg := JobMessage{
		UUID:       job.ID,
		Width:      job.Width,
		Height:     job.Height,
		Iterations: job.Iterations,
		XA:         job.XA,
		XB:         job.XB,
		YA:         job.YA,
		YB:         job.YB,
	}
	return encode(msg, contentType)
}

// DecodeJob decodes a job envelope. It does not validate the job parameters.
func DecodeJob(env Envelope) (domain.Job, error) {
	var msg JobMessage
	if err := decode(env, &msg); err != nil {
		return domain.Job{}, err
	}

	return domain.Job{
		ID:         msg.UUID,
		Width:      msg.Width,
		Height:     msg.Height,
		Iterations: msg.Iterations,
		XA:         msg.XA,
		XB:         msg.XB,
		YA:         msg.YA,
		YB:         msg.YB,
	}, nil
}

// EncodeResult encodes a render result with the codec registered for contentType
func EncodeResult(result domain.RenderResult, contentType string) (Envelope, error) {
	msg := ResultMessage{
		UUID:        result.JobID,
		Duration:    result.DurationSeconds(),
		Checksum:    result.Checksum,
		Image:       result.Image,
		Size:        result.Size,
		GeneratedBy: result.GeneratedBy,
	}
	return encode(msg, contentType)
}

// DecodeResult decodes a result envelope
func DecodeResult(env Envelope) (domain.RenderResult, error) {
	var msg ResultMessage
	if err := decode(env, &msg); err != nil {
		return domain.RenderResult{}, err
	}

	if msg.UUID == "" {
		return domain.RenderResult{}, fmt.Errorf("%w: result without uuid", domain.ErrInvalidPayload)
	}

	return domain.RenderResult{
		JobID:       msg.UUID,
		Duration:    domain.SecondsToDuration(msg.Duration),
		Checksum:    msg.Checksum,
		Image:       msg.Image,
		Size:        msg.Size,
		GeneratedBy: msg.GeneratedBy,
	}, nil
}

func encode(v any, contentType string) (Envelope, error) {
	codec, err := CodecFor(contentType)
	if err != nil {
		return Envelope{}, err
	}

	body, err := codec.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s message: %w", contentType, err)
	}

	return Envelope{ContentType: contentType, Version: SchemaVersion, Body: body}, nil
}

func decode(env Envelope, v any) error {
	if env.Version != SchemaVersion {
		return fmt.Errorf("%w: schema version %d", domain.ErrUnsupportedFormat, env.Version)
	}

	codec, err := CodecFor(env.ContentType)
	if err != nil {
		return err
	}

	if err := codec.Unmarshal(env.Body, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	return nil
}

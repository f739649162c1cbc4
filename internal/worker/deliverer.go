package worker

import (
	"context"
	"fmt"

	"github.com/cuongbtq/fractal-pipeline/internal/domain"
	"github.com/cuongbtq/fractal-pipeline/internal/message"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Deliverer hands a finished render to its destination
type Deliverer interface {
	Deliver(ctx context.Context, result domain.RenderResult) error
}

// Completer writes a result straight onto the job's record
type Completer interface {
	Complete(ctx context.Context, result domain.RenderResult) error
}

// Publisher puts an encoded result onto the result queue
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string, headers amqp.Table) error
}

// RecordDeliverer updates the record service directly
type RecordDeliverer struct {
	records Completer
}

func NewRecordDeliverer(records Completer) *RecordDeliverer {
	return &RecordDeliverer{records: records}
}

func (d *RecordDeliverer) Deliver(ctx context.Context, result domain.RenderResult) error {
	return d.records.Complete(ctx, result)
}

// QueueDeliverer publishes results for the tracker to reconcile
type QueueDeliverer struct {
	publisher   Publisher
	contentType string
}

func NewQueueDeliverer(publisher Publisher, contentType string) *QueueDeliverer {
	if contentType == "" {
		contentType = message.ContentTypeJSON
	}
	return &QueueDeliverer{publisher: publisher, contentType: contentType}
}

func (d *QueueDeliverer) Deliver(ctx context.Context, result domain.RenderResult) error {
	env, err := message.EncodeResult(result, d.contentType)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if err := d.publisher.PublishWithRetry(ctx, env.Body, env.ContentType, env.Headers()); err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to publish result: %w", err))
	}
	return nil
}

package transport

import (
	"context"
	"errors"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FeedbackProcessor consumes one SES notification delivered through SNS.
type FeedbackProcessor interface {
	HandleNotification(ctx context.Context, topicARN, message string) error
}

// FeedbackHandler is the Lambda entry point for the SNS topic that SES
// publishes bounces and complaints to.
type FeedbackHandler struct {
	processor FeedbackProcessor
}

func NewFeedbackHandler(p FeedbackProcessor) *FeedbackHandler {
	return &FeedbackHandler{processor: p}
}

// Handle processes every record. A failed record fails the invocation so
// that Lambda retries the delivery.
func (h *FeedbackHandler) Handle(ctx context.Context, evt events.SNSEvent) error {
	var errs []error
	for _, record := range evt.Records {
		corrID := record.SNS.MessageID
		if corrID == "" {
			corrID = uuid.NewString()
		}
		logger := log.With().
			Str("correlation_id", corrID).
			Str("topic_arn", record.SNS.TopicArn).
			Logger()
		recordCtx := logger.WithContext(ctx)

		if err := h.processor.HandleNotification(recordCtx, record.SNS.TopicArn, record.SNS.Message); err != nil {
			logger.Error().Err(err).Msg("feedback notification failed")
			errs = append(errs, err)
			continue
		}
		logger.Debug().Msg("feedback notification processed")
	}
	return errors.Join(errs...)
}

package newsletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/raywall/gifted-service/dyndb"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/mailer"
	"github.com/raywall/gifted-service/pkg/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidNotification = errors.New("newsletter: malformed feedback notification")
	ErrTopicMismatch       = errors.New("newsletter: notification from unexpected topic")
)

// SNS message types.
const (
	snsSubscriptionConfirmation = "SubscriptionConfirmation"
	snsNotification             = "Notification"
)

// Envelope is the SNS HTTP delivery body.
type Envelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

type recipient struct {
	EmailAddress string `json:"emailAddress"`
}

// SESEvent is an SES event-publishing (or legacy notification) record.
type SESEvent struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID   string              `json:"messageId"`
		Destination []string            `json:"destination"`
		Tags        map[string][]string `json:"tags"`
	} `json:"mail"`
	Bounce *struct {
		BounceType        string      `json:"bounceType"`
		BounceSubType     string      `json:"bounceSubType"`
		BouncedRecipients []recipient `json:"bouncedRecipients"`
	} `json:"bounce,omitempty"`
	Complaint *struct {
		ComplainedRecipients []recipient `json:"complainedRecipients"`
	} `json:"complaint,omitempty"`
}

func (e SESEvent) kind() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.NotificationType
}

func (e SESEvent) emailType() string {
	if values := e.Mail.Tags[mailer.TagEmailType]; len(values) > 0 {
		return values[0]
	}
	return "unknown"
}

// HandleEnvelope processes an SNS HTTP delivery.
func (s *Service) HandleEnvelope(ctx context.Context, body []byte) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}

	switch env.Type {
	case snsSubscriptionConfirmation:
		if err := s.checkTopic(env.TopicArn); err != nil {
			return err
		}
		log.Ctx(ctx).Info().
			Str("topic_arn", env.TopicArn).
			Str("subscribe_url", env.SubscribeURL).
			Msg("sns subscription confirmation received")
		return nil
	case snsNotification:
		return s.HandleNotification(ctx, env.TopicArn, env.Message)
	}
	log.Ctx(ctx).Debug().Str("type", env.Type).Msg("sns message type ignored")
	return nil
}

func (s *Service) checkTopic(arn string) error {
	if s.topicARN != "" && arn != s.topicARN {
		return fmt.Errorf("%w: %s", ErrTopicMismatch, arn)
	}
	return nil
}

// HandleNotification applies one SES feedback event: the tracking status of
// every recipient is updated, and hard bounces or complaints on newsletter
// mail unsubscribe the affected addresses.
func (s *Service) HandleNotification(ctx context.Context, topicARN, message string) error {
	if err := s.checkTopic(topicARN); err != nil {
		return err
	}

	var evt SESEvent
	if err := json.Unmarshal([]byte(message), &evt); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	kind := evt.kind()
	if kind == "" || evt.Mail.MessageID == "" {
		return ErrInvalidNotification
	}

	logger := log.Ctx(ctx).With().
		Str("message_id", evt.Mail.MessageID).
		Str("ses_event", kind).
		Logger()
	ctx = logger.WithContext(ctx)
	s.metrics.Count(ctx, metrics.FeedbackNotifications, "event:"+strings.ToLower(kind))

	var errs []error
	status := strings.ToLower(kind)
	now := s.now().UTC()
	for _, to := range evt.Mail.Destination {
		_, err := s.tracking.Update(ctx, evt.Mail.MessageID, keyspace.NormalizeEmail(to), map[string]any{
			"status":     status,
			"updated_at": now,
		})
		if err != nil && !errors.Is(err, dyndb.ErrNotFound) {
			errs = append(errs, fmt.Errorf("newsletter: track %s: %w", to, err))
		}
	}

	if evt.emailType() != string(mailer.KindNewsletter) {
		return errors.Join(errs...)
	}

	var drop []recipient
	if evt.Bounce != nil && evt.Bounce.BounceType == "Permanent" {
		drop = append(drop, evt.Bounce.BouncedRecipients...)
	}
	if evt.Complaint != nil {
		drop = append(drop, evt.Complaint.ComplainedRecipients...)
	}
	for _, r := range drop {
		email := keyspace.NormalizeEmail(r.EmailAddress)
		err := s.unsubscribe(ctx, email)
		switch {
		case errors.Is(err, dyndb.ErrNotFound):
			logger.Debug().Str("email", email).Msg("feedback for unknown subscriber")
		case err != nil:
			errs = append(errs, err)
		default:
			logger.Info().Str("email", email).Msg("unsubscribed after feedback")
		}
	}
	return errors.Join(errs...)
}

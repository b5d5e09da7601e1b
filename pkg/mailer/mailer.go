package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/raywall/gifted-service/dyndb"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/metrics"
	"github.com/rs/zerolog/log"
)

// Kind selects the sender identity and configuration set.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindNewsletter Kind = "newsletter"
)

// TagEmailType is the SES message tag carrying the Kind. Feedback handling
// reads it back from bounce and complaint events.
const TagEmailType = "emailType"

var ErrNoRecipients = errors.New("mailer: message has no recipients")

// SESAPI is the part of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type Config struct {
	FromName            string `yaml:"from_name" env:"AWS_SES_FROM_NAME" envDefault:"Gifted"`
	AuthFrom            string `yaml:"auth_from" env:"AWS_SES_AUTH_FROM_EMAIL" validate:"required,email"`
	NewsletterFrom      string `yaml:"newsletter_from" env:"AWS_SES_NEWSLETTER_FROM_EMAIL" validate:"required,email"`
	AuthConfigSet       string `yaml:"auth_config_set" env:"AWS_SES_AUTH_CONFIG_SET"`
	NewsletterConfigSet string `yaml:"newsletter_config_set" env:"AWS_SES_NEWSLETTER_CONFIG_SET"`
}

type Message struct {
	Kind    Kind
	Type    string // tracking type: verification, welcome, signin
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Mailer sends transactional email through SES and records one tracking
// row per recipient.
type Mailer struct {
	ses      SESAPI
	cfg      Config
	appURL   string
	tracking dyndb.Store[keyspace.EmailTrackingRecord]
	metrics  metrics.Recorder
	now      func() time.Time
}

func New(ses SESAPI, cfg Config, appURL string, tracking dyndb.Store[keyspace.EmailTrackingRecord], m metrics.Provider) *Mailer {
	return &Mailer{
		ses:      ses,
		cfg:      cfg,
		appURL:   appURL,
		tracking: tracking,
		metrics:  metrics.NewRecorder(m),
		now:      time.Now,
	}
}

func (m *Mailer) identity(kind Kind) (string, string) {
	if kind == KindAuth {
		return m.cfg.AuthFrom, m.cfg.AuthConfigSet
	}
	return m.cfg.NewsletterFrom, m.cfg.NewsletterConfigSet
}

// Send delivers msg and returns the SES message id.
func (m *Mailer) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.To) == 0 {
		return "", ErrNoRecipients
	}
	from, configSet := m.identity(msg.Kind)
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, from)
	}

	body := &types.Body{Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{Simple: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    body,
		}},
		EmailTags: []types.MessageTag{
			{Name: aws.String(TagEmailType), Value: aws.String(string(msg.Kind))},
		},
	}
	if configSet != "" {
		input.ConfigurationSetName = aws.String(configSet)
	}

	out, err := m.ses.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("mailer: send %s: %w", msg.Type, err)
	}
	messageID := aws.ToString(out.MessageId)
	m.metrics.Count(ctx, metrics.EmailSent, "kind:"+msg.Type)

	if err := m.track(ctx, messageID, msg); err != nil {
		// tracking is best effort once the mail is sent
		log.Ctx(ctx).Error().Err(err).Str("message_id", messageID).Msg("email tracking not recorded")
	}
	return messageID, nil
}

func (m *Mailer) track(ctx context.Context, messageID string, msg Message) error {
	if m.tracking == nil || messageID == "" {
		return nil
	}
	now := m.now().UTC()
	records := make([]keyspace.EmailTrackingRecord, 0, len(msg.To))
	for _, to := range msg.To {
		records = append(records, keyspace.EmailTrackingRecord{
			EmailID:   messageID,
			Recipient: keyspace.NormalizeEmail(to),
			Subject:   msg.Subject,
			Type:      msg.Type,
			Status:    "sent",
			SentAt:    now,
		})
	}
	return m.tracking.BatchWrite(ctx, records, nil)
}

func (m *Mailer) send(ctx context.Context, kind Kind, kindType string, to string, t template, link string) error {
	html, text, err := t.render(templateData{AppName: m.cfg.FromName, Email: to, Link: link})
	if err != nil {
		return fmt.Errorf("mailer: render %s: %w", kindType, err)
	}
	_, err = m.Send(ctx, Message{
		Kind:    kind,
		Type:    kindType,
		To:      []string{to},
		Subject: t.subject,
		HTML:    html,
		Text:    text,
	})
	return err
}

// SendVerification mails the newsletter double opt-in link.
func (m *Mailer) SendVerification(ctx context.Context, email, token string) error {
	link := fmt.Sprintf("%s/api/newsletter/verify?token=%s&email=%s", m.appURL, url.QueryEscape(token), url.QueryEscape(email))
	return m.send(ctx, KindNewsletter, "verification", email, verificationTemplate, link)
}

// SendWelcome mails the newsletter welcome with its unsubscribe link.
func (m *Mailer) SendWelcome(ctx context.Context, email string) error {
	link := fmt.Sprintf("%s/api/newsletter/unsubscribe?email=%s", m.appURL, url.QueryEscape(email))
	return m.send(ctx, KindNewsletter, "welcome", email, welcomeTemplate, link)
}

// SendSignInLink mails a passwordless sign-in link.
func (m *Mailer) SendSignInLink(ctx context.Context, email, link string) error {
	return m.send(ctx, KindAuth, "signin", email, signInTemplate, link)
}

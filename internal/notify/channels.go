package notify

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/messaging"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"gopkg.in/gomail.v2"
)

// ErrNoRecipient means the channel has no address for the job's user.
var ErrNoRecipient = errors.New("no recipient for channel")

// Channel delivers a job through one medium.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, j Job) error
}

// Dialer is satisfied by *gomail.Dialer.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailChannel sends HTML email over SMTP.
type EmailChannel struct {
	dialer Dialer
	from   string
}

func NewEmailChannel(d Dialer, from string) *EmailChannel {
	return &EmailChannel{dialer: d, from: from}
}

// NewSMTPDialer builds a gomail dialer.
func NewSMTPDialer(host string, port int, user, password string) *gomail.Dialer {
	return gomail.NewDialer(host, port, user, password)
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(_ context.Context, j Job) error {
	if j.Email == "" {
		return ErrNoRecipient
	}
	m := gomail.NewMessage()
	m.SetHeader("From", c.from)
	m.SetHeader("To", j.Email)
	m.SetHeader("Subject", j.Subject())
	m.SetBody("text/plain", j.Text())
	m.AddAlternative("text/html", j.HTML())
	if err := c.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// PushSender is satisfied by *messaging.Client.
type PushSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushChannel sends Firebase Cloud Messaging notifications.
type PushChannel struct {
	client PushSender
}

func NewPushChannel(client PushSender) *PushChannel {
	return &PushChannel{client: client}
}

func (c *PushChannel) Name() string { return "push" }

func (c *PushChannel) Deliver(ctx context.Context, j Job) error {
	if j.PushToken == "" {
		return ErrNoRecipient
	}
	_, err := c.client.Send(ctx, &messaging.Message{
		Token: j.PushToken,
		Notification: &messaging.Notification{
			Title: j.Subject(),
			Body:  j.Text(),
		},
		Data: map[string]string{
			"kind":     j.Kind,
			"event_id": j.EventID,
			"date":     j.Date,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID:    "attendance",
				DefaultSound: true,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("error sending push: %w", err)
	}
	return nil
}

// SESClient is the subset of the SES API used.
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESChannel sends email through Amazon SES.
type SESChannel struct {
	client SESClient
	sender string
}

func NewSESChannel(client SESClient, sender string) *SESChannel {
	return &SESChannel{client: client, sender: sender}
}

func (c *SESChannel) Name() string { return "ses" }

func (c *SESChannel) Deliver(ctx context.Context, j Job) error {
	if j.Email == "" {
		return ErrNoRecipient
	}
	_, err := c.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(c.sender),
		Destination: &sestypes.Destination{ToAddresses: []string{j.Email}},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(j.Subject()), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Html: &sestypes.Content{Data: aws.String(j.HTML()), Charset: aws.String("UTF-8")},
				Text: &sestypes.Content{Data: aws.String(j.Text()), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}

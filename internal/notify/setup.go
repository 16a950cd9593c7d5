package notify

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/rs/zerolog/log"

	"marcaje/internal/awsconf"
	"marcaje/internal/config"
)

// ChannelsFromConfig builds every channel whose settings are present. A
// channel that fails to initialise is skipped with a warning.
func ChannelsFromConfig(ctx context.Context, cfg config.App) []Channel {
	var channels []Channel

	if cfg.SMTPHost != "" {
		d := NewSMTPDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
		channels = append(channels, NewEmailChannel(d, cfg.MailFrom))
	}

	if cfg.FirebaseCredentials != "" {
		client, err := NewFirebaseMessaging(ctx, cfg.FirebaseCredentials)
		if err != nil {
			log.Warn().Err(err).Msg("push channel disabled")
		} else {
			channels = append(channels, NewPushChannel(client))
		}
	}

	if cfg.SESSender != "" {
		awsCfg, err := awsconf.Load(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
		if err != nil {
			log.Warn().Err(err).Msg("ses channel disabled")
		} else {
			channels = append(channels, NewSESChannel(ses.NewFromConfig(awsCfg), cfg.SESSender))
		}
	}
	return channels
}

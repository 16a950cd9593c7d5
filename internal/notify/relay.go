package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ErrNoChannels is returned when no delivery channel is configured.
var ErrNoChannels = errors.New("no notification channels configured")

// Relay fans a job out to every channel. Delivery on any channel counts as
// success.
type Relay struct {
	channels []Channel
}

func NewRelay(channels ...Channel) *Relay {
	return &Relay{channels: channels}
}

// Channels lists the configured channel names.
func (r *Relay) Channels() []string {
	names := make([]string, 0, len(r.channels))
	for _, c := range r.channels {
		names = append(names, c.Name())
	}
	return names
}

// Deliver returns nil if at least one channel delivered. It returns
// ErrNoRecipient when every channel lacked an address.
func (r *Relay) Deliver(ctx context.Context, j Job) error {
	if len(r.channels) == 0 {
		return ErrNoChannels
	}
	var errs []error
	delivered, skipped := 0, 0
	for _, c := range r.channels {
		err := c.Deliver(ctx, j)
		switch {
		case err == nil:
			delivered++
			log.Ctx(ctx).Debug().Str("channel", c.Name()).Str("user_id", j.UserID).Msg("notification delivered")
		case errors.Is(err, ErrNoRecipient):
			skipped++
		default:
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	if delivered > 0 {
		return nil
	}
	if skipped == len(r.channels) {
		return ErrNoRecipient
	}
	return errors.Join(errs...)
}

package tangle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"tanglestore/internal/store"
)

// Publisher delivers a signed event to a set of relays. A zero timeout
// means no deadline beyond the caller's context.
type Publisher interface {
	Publish(ctx context.Context, event *nostr.Event, relays []string, timeout time.Duration) error
}

// RelayPublisher publishes over live relay connections. Delivery succeeds
// when at least one relay accepts the event.
type RelayPublisher struct {
	logger store.Logger
}

var _ Publisher = (*RelayPublisher)(nil)

// NewRelayPublisher creates a relay publisher.
func NewRelayPublisher(logger store.Logger) *RelayPublisher {
	return &RelayPublisher{logger: logger}
}

func (p *RelayPublisher) Publish(ctx context.Context, event *nostr.Event, relays []string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var errs []error
	accepted := 0
	for _, url := range relays {
		if err := p.publishOne(ctx, event, url); err != nil {
			p.logger.Warn("relay rejected event", "relay", url, "event_id", event.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		accepted++
	}

	if accepted == 0 {
		return fmt.Errorf("no relay accepted event %q: %w", event.ID, errors.Join(errs...))
	}
	p.logger.Debug("event published", "event_id", event.ID, "accepted", accepted, "relays", len(relays))
	return nil
}

func (p *RelayPublisher) publishOne(ctx context.Context, event *nostr.Event, url string) error {
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer relay.Close()

	if err := relay.Publish(ctx, *event); err != nil {
		return fmt.Errorf("publishing: %w", err)
	}
	return nil
}

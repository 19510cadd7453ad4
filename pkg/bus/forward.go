package bus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/odvcencio/sidebar/pkg/telemetry"
)

// Subject returns the bus subject an event type is relayed on.
func Subject(prefix string, eventType telemetry.EventType) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return string(eventType)
	}
	return prefix + "." + string(eventType)
}

// Forward relays every hub event to the bus as JSON on
// <prefix>.<event type> until ctx is done or the hub closes. Publish
// failures other than a closed bus are dropped.
func Forward(ctx context.Context, hub *telemetry.Hub, b MessageBus, prefix string) error {
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := b.Publish(ctx, Subject(prefix, ev.Type), data); errors.Is(err, ErrClosed) {
				return err
			}
		}
	}
}

package bus

import (
	"fmt"

	"github.com/kestrel-insights/kestrel/internal/domain"
)

// New creates a new event bus based on configuration.
// "channel" is the in-process default; "nats" connects workers across nodes.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

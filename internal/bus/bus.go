package bus

import (
	"fmt"

	"github.com/theomodesto/fraudshield/internal/domain"
)

// New creates an event bus based on configuration.
// "channel" returns the in-process bus used for development and tests;
// "kafka" returns the broker-backed bus used in production.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg), nil

	case "kafka":
		return NewKafkaBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

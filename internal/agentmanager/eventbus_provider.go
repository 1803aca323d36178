package agentmanager

import (
	"fmt"
	"strings"

	"github.com/ploinky/ploinky/internal/agentmanager/eventbus"
	"github.com/ploinky/ploinky/internal/common/config"
	"github.com/ploinky/ploinky/internal/common/logger"
)

// ProvidedBus wraps the active event bus implementation.
type ProvidedBus struct {
	Bus    eventbus.EventBus
	Memory *eventbus.MemoryEventBus
	NATS   *eventbus.NATSEventBus
}

// ProvideEventBus builds the configured event bus implementation: NATS when
// NATS.URL is set, an in-memory bus otherwise.
func ProvideEventBus(cfg config.NATSConfig, log *logger.Logger) (*ProvidedBus, func() error, error) {
	if strings.TrimSpace(cfg.URL) != "" {
		natsBus, err := eventbus.NewNATSEventBus(cfg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		cleanup := func() error {
			natsBus.Close()
			return nil
		}
		return &ProvidedBus{Bus: natsBus, NATS: natsBus}, cleanup, nil
	}

	memBus := eventbus.NewMemoryEventBus(log)
	return &ProvidedBus{Bus: memBus, Memory: memBus}, func() error { return nil }, nil
}

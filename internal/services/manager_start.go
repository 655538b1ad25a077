package services

import (
	"context"
	"errors"
	"fmt"
)

var errNotInitialized = errors.New("services not initialized")

// Start begins connectivity probing, serves metrics when configured and
// enables the engine.
func (m *Manager) Start(ctx context.Context) error {
	if m.engine == nil {
		return errNotInitialized
	}
	if m.monitor != nil {
		if err := m.monitor.Start(ctx); err != nil {
			return err
		}
	}
	if m.metrics != nil {
		if err := m.metrics.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}
	if err := m.engine.Enable(ctx); err != nil {
		return err
	}
	m.logger.Info("Services started", "online", m.network.Online(), "offline_mode", m.opts.Offline)
	return nil
}

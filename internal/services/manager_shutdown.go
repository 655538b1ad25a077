package services

import (
	"context"
	"errors"
)

// Shutdown stops the components in reverse start order and closes the
// stores. It returns the joined close errors.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	if m.engine != nil {
		if err := m.engine.Shutdown(ctx); err != nil {
			m.logger.Error("Error shutting down sync engine", "error", err)
			errs = append(errs, err)
		}
	}
	if m.metrics != nil {
		if err := m.metrics.Shutdown(ctx); err != nil {
			m.logger.Error("Error shutting down metrics server", "error", err)
			errs = append(errs, err)
		}
	}
	if m.monitor != nil {
		m.monitor.Stop()
	}
	errs = append(errs, m.closeResources()...)
	m.logger.Info("Services stopped")
	return errors.Join(errs...)
}

func (m *Manager) closeResources() []error {
	var errs []error
	if m.publisher != nil {
		if err := m.publisher.Close(); err != nil {
			m.logger.Error("Error closing event publisher", "error", err)
			errs = append(errs, err)
		}
		m.publisher = nil
	}
	if m.tokens != nil {
		if err := m.tokens.Close(); err != nil {
			m.logger.Error("Error closing token cache", "error", err)
			errs = append(errs, err)
		}
		m.tokens = nil
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			m.logger.Error("Error closing document store", "error", err)
			errs = append(errs, err)
		}
		m.store = nil
	}
	return errs
}

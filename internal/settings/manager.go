package settings

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Runtime is the part of the configuration an operator may change while
// the service runs.
type Runtime struct {
	LocationID string `json:"location_id"`
	Currency   string `json:"currency"`
}

// UpdatePayload is the body accepted by UpdateSettings. Absent fields keep
// their current value.
type UpdatePayload struct {
	LocationID *string `json:"location_id,omitempty"`
	Currency   *string `json:"currency,omitempty"`
}

// PublicConfig is what the dashboard may see. It never carries the secret
// key.
type PublicConfig struct {
	PublishableKey   string `json:"publishable_key"`
	Mode             string `json:"mode"`
	LocationID       string `json:"location_id,omitempty"`
	Currency         string `json:"currency"`
	Driver           string `json:"driver"`
	SimulatorAllowed bool   `json:"simulator_allowed"`
}

// Manager owns the loaded configuration and its runtime overrides.
type Manager struct {
	sync.RWMutex
	logger         *logrus.Entry
	config         Config
	runtime        Runtime
	changeChan     chan struct{}
	updateCallback func(Runtime)
}

func NewManager(cfg *Config, logger *logrus.Entry) *Manager {
	return &Manager{
		logger:     logger,
		config:     *cfg,
		runtime:    Runtime{LocationID: cfg.LocationID, Currency: cfg.Currency},
		changeChan: make(chan struct{}, 1),
	}
}

// UpdateSettings applies a JSON UpdatePayload.
func (m *Manager) UpdateSettings(payload []byte) error {
	var update UpdatePayload
	if err := json.Unmarshal(payload, &update); err != nil {
		return fmt.Errorf("could not unmarshal settings payload: %w", err)
	}

	m.Lock()
	next := m.runtime
	if update.LocationID != nil {
		next.LocationID = strings.TrimSpace(*update.LocationID)
	}
	if update.Currency != nil {
		currency := strings.ToLower(strings.TrimSpace(*update.Currency))
		if len(currency) != 3 {
			m.Unlock()
			return fmt.Errorf("invalid currency %q", *update.Currency)
		}
		next.Currency = currency
	}

	if next == m.runtime {
		m.Unlock()
		return nil
	}
	m.logger.Infof("Runtime settings updated: location=%q currency=%s", next.LocationID, next.Currency)
	m.runtime = next
	callback := m.updateCallback
	m.Unlock()

	if callback != nil {
		callback(next)
	}
	m.notifyChange()
	return nil
}

// Config returns a copy of the start-up configuration.
func (m *Manager) Config() Config {
	m.RLock()
	defer m.RUnlock()
	return m.config
}

// Runtime returns the current runtime settings.
func (m *Manager) Runtime() Runtime {
	m.RLock()
	defer m.RUnlock()
	return m.runtime
}

func (m *Manager) PublicConfig() PublicConfig {
	m.RLock()
	defer m.RUnlock()
	return PublicConfig{
		PublishableKey:   m.config.PublishableKey,
		Mode:             m.config.Mode,
		LocationID:       m.runtime.LocationID,
		Currency:         m.runtime.Currency,
		Driver:           m.config.Driver,
		SimulatorAllowed: !m.config.Live(),
	}
}

// Changes returns a channel that signals when settings have been updated.
func (m *Manager) Changes() <-chan struct{} {
	return m.changeChan
}

// SetUpdateCallback sets the function called with the new runtime settings
// after each effective update.
func (m *Manager) SetUpdateCallback(callback func(Runtime)) {
	m.Lock()
	defer m.Unlock()
	m.updateCallback = callback
}

func (m *Manager) notifyChange() {
	select {
	case m.changeChan <- struct{}{}:
	default:
	}
}

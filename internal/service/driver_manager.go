package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"terminal-pointofsale/internal/drivers"
	"terminal-pointofsale/internal/settings"
	"terminal-pointofsale/internal/terminal"
)

// DriverManager owns the active terminal driver and hands the terminal
// manager its SDK.
type DriverManager struct {
	mu     sync.RWMutex
	logger *logrus.Entry
	active drivers.Driver
}

func NewDriverManager(logger *logrus.Entry) *DriverManager {
	return &DriverManager{logger: logger}
}

// HandleConfigChange starts the configured driver, replacing the active one
// when the driver name changed. A nil config stops the active driver.
func (dm *DriverManager) HandleConfigChange(cfg *settings.Config) error {
	if !dm.shouldRestartDriver(cfg) {
		return nil
	}
	if err := dm.stopCurrentDriver(); err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}
	return dm.startNewDriver(cfg)
}

func (dm *DriverManager) shouldRestartDriver(cfg *settings.Config) bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	if dm.active == nil {
		dm.logger.Info("No active driver - starting new driver")
		return true
	}
	if cfg == nil {
		dm.logger.Info("No driver configuration - stopping current driver")
		return true
	}
	if dm.active.Name() != cfg.Driver {
		dm.logger.Infof("Driver changed from %s to %s - restarting", dm.active.Name(), cfg.Driver)
		return true
	}

	dm.logger.Infof("Driver %s already active - no restart needed", cfg.Driver)
	return false
}

func (dm *DriverManager) stopCurrentDriver() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.active == nil {
		return nil
	}
	dm.logger.Infof("Stopping current driver: %s", dm.active.Name())
	if stopper, ok := dm.active.(drivers.Stopper); ok {
		if err := stopper.Stop(); err != nil {
			dm.logger.Errorf("Error stopping driver %s: %v", dm.active.Name(), err)
			return err
		}
	}
	dm.active = nil
	return nil
}

func (dm *DriverManager) startNewDriver(cfg *settings.Config) error {
	newFunc, err := drivers.Get(cfg.Driver)
	if err != nil {
		dm.logger.Errorf("Failed to get driver: %v", err)
		return err
	}

	raw, err := cfg.DriverSettings()
	if err != nil {
		dm.logger.Errorf("Failed to build driver settings: %v", err)
		return err
	}

	driver, err := newFunc(dm.logger.WithField("driver", cfg.Driver), raw)
	if err != nil {
		dm.logger.Errorf("Failed to create driver: %v", err)
		return err
	}

	dm.mu.Lock()
	dm.active = driver
	dm.mu.Unlock()

	dm.logger.Infof("Terminal driver %s started", driver.Name())
	return nil
}

// Load is a terminal.Loader backed by the active driver.
func (dm *DriverManager) Load(ctx context.Context, opts terminal.SDKOptions) (terminal.SDK, error) {
	driver := dm.Active()
	if driver == nil {
		return nil, fmt.Errorf("no terminal driver started")
	}
	return driver.Load(ctx, opts)
}

// Active returns the running driver, or nil.
func (dm *DriverManager) Active() drivers.Driver {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.active
}

// Simulation returns the active driver's event injection surface when it
// has one.
func (dm *DriverManager) Simulation() (drivers.Simulation, bool) {
	sim, ok := dm.Active().(drivers.Simulation)
	return sim, ok
}

func (dm *DriverManager) Stop() error {
	return dm.stopCurrentDriver()
}

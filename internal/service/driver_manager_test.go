package service

import (
	"context"
	"testing"
	"time"

	"terminal-pointofsale/internal/core"
	_ "terminal-pointofsale/internal/drivers/simulator"
	"terminal-pointofsale/internal/drivers/stripeterminal"
	"terminal-pointofsale/internal/settings"
	"terminal-pointofsale/internal/terminal"
)

func testConfig(driver string) *settings.Config {
	return &settings.Config{
		SecretKey:      "sk_test_123",
		PublishableKey: "pk_test_123",
		Mode:           "test",
		Driver:         driver,
		Currency:       "jpy",
		PollInterval:   time.Second,
		DriverConfig:   map[string]interface{}{"tap_delay": "10ms"},
	}
}

func TestDriverManager_Stop(t *testing.T) {
	dm := NewDriverManager(core.DiscardLogger())

	// Stopping without a driver is fine
	if err := dm.Stop(); err != nil {
		t.Errorf("Stop should not error on uninitialized manager: %v", err)
	}
	if dm.Active() != nil {
		t.Error("Expected no active driver")
	}
}

func TestDriverManager_Load(t *testing.T) {
	dm := NewDriverManager(core.DiscardLogger())

	if _, err := dm.Load(context.Background(), terminal.SDKOptions{}); err == nil {
		t.Error("Expected an error loading without a driver")
	}

	if err := dm.HandleConfigChange(testConfig("simulator")); err != nil {
		t.Fatalf("HandleConfigChange failed: %v", err)
	}
	sdk, err := dm.Load(context.Background(), terminal.SDKOptions{})
	if err != nil || sdk == nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := dm.Simulation(); !ok {
		t.Error("Expected the simulator to support simulation")
	}
}

func TestDriverManager_HandleConfigChange(t *testing.T) {
	dm := NewDriverManager(core.DiscardLogger())

	if err := dm.HandleConfigChange(testConfig("simulator")); err != nil {
		t.Fatal(err)
	}
	first := dm.Active()

	// Same driver keeps the instance
	if err := dm.HandleConfigChange(testConfig("simulator")); err != nil {
		t.Fatal(err)
	}
	if dm.Active() != first {
		t.Error("Expected the running driver to be kept")
	}

	if err := dm.HandleConfigChange(testConfig(stripeterminal.Name)); err != nil {
		t.Fatal(err)
	}
	if dm.Active().Name() != stripeterminal.Name {
		t.Errorf("got driver %s, want %s", dm.Active().Name(), stripeterminal.Name)
	}

	if err := dm.HandleConfigChange(nil); err != nil {
		t.Fatal(err)
	}
	if dm.Active() != nil {
		t.Error("Expected nil config to stop the driver")
	}
}

func TestDriverManager_UnknownDriver(t *testing.T) {
	dm := NewDriverManager(core.DiscardLogger())
	if err := dm.HandleConfigChange(testConfig("verifone")); err == nil {
		t.Error("Expected an error for an unregistered driver")
	}
	if dm.Active() != nil {
		t.Error("Expected no active driver")
	}
}

package settings

import (
	"testing"

	"terminal-pointofsale/internal/core"
)

func newTestManager(mode string) *Manager {
	return NewManager(&Config{
		SecretKey:      "sk_test_abc",
		PublishableKey: "pk_test_abc",
		LocationID:     "tml_start",
		Mode:           mode,
		Currency:       "jpy",
		Driver:         "stripe",
	}, core.DiscardLogger())
}

func TestUpdateSettings(t *testing.T) {
	m := newTestManager(ModeTest)

	var got []Runtime
	m.SetUpdateCallback(func(r Runtime) { got = append(got, r) })

	if err := m.UpdateSettings([]byte(`{"location_id":"tml_new"}`)); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	rt := m.Runtime()
	if rt.LocationID != "tml_new" || rt.Currency != "jpy" {
		t.Errorf("Unexpected runtime %+v", rt)
	}
	if len(got) != 1 || got[0] != rt {
		t.Errorf("Expected one callback with %+v, got %v", rt, got)
	}

	select {
	case <-m.Changes():
	default:
		t.Error("Expected change notification")
	}
}

func TestUpdateSettingsNoChange(t *testing.T) {
	m := newTestManager(ModeTest)
	calls := 0
	m.SetUpdateCallback(func(Runtime) { calls++ })

	if err := m.UpdateSettings([]byte(`{"location_id":"tml_start"}`)); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("Expected no callback, got %d", calls)
	}
	select {
	case <-m.Changes():
		t.Error("Expected no change notification")
	default:
	}
}

func TestUpdateSettingsInvalid(t *testing.T) {
	m := newTestManager(ModeTest)

	tests := []struct {
		name    string
		payload string
	}{
		{"bad json", `{`},
		{"bad currency", `{"currency":"yen!"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.UpdateSettings([]byte(tt.payload)); err == nil {
				t.Error("Expected error")
			}
		})
	}
	if m.Runtime().Currency != "jpy" {
		t.Errorf("Runtime changed after invalid update: %+v", m.Runtime())
	}
}

func TestPublicConfig(t *testing.T) {
	tests := []struct {
		mode      string
		simulator bool
	}{
		{ModeTest, true},
		{ModeLive, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			pc := newTestManager(tt.mode).PublicConfig()
			if pc.SimulatorAllowed != tt.simulator {
				t.Errorf("SimulatorAllowed: got %v, want %v", pc.SimulatorAllowed, tt.simulator)
			}
			if pc.PublishableKey != "pk_test_abc" {
				t.Errorf("Expected publishable key, got %s", pc.PublishableKey)
			}
		})
	}
}

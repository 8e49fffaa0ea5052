package tbms

import "testing"

func TestModuleResetFaultBytesDefaultToAllAsserted(t *testing.T) {
	var m Module
	m.reset()
	if m.Faults != 0xFF || m.CovFaults != 0xFF || m.CuvFaults != 0xFF || m.Alerts != 0xFF {
		t.Fatalf("expected all status bytes at 0xFF after reset, got %+v", m)
	}
	if !m.hasFault() {
		t.Fatalf("module with 0xFF fault bytes must report hasFault true")
	}
}

func TestModuleBalanceMask(t *testing.T) {
	var m Module
	m.reset()
	m.Cells[0].Balancing = true
	m.Cells[3].Balancing = true
	if got, want := m.BalanceMask(), byte(0b00001001); got != want {
		t.Fatalf("BalanceMask() = %08b, want %08b", got, want)
	}
}

func TestModuleHasFaultIgnoresAlerts(t *testing.T) {
	var m Module
	m.reset()
	m.Faults, m.CovFaults, m.CuvFaults = 0, 0, 0
	m.Alerts = 0xFF
	if m.hasFault() {
		t.Fatalf("hasFault must ignore Alerts")
	}
}

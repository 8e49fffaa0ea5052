package tbms

// Cell holds one series cell's last-measured voltage and the current
// hysteresis-carrying balance decision for that cell.
type Cell struct {
	Voltage   float32
	Balancing bool
}

// Module is one record in the static 62-slot module table, indexed by
// chain position. Exist transitions false -> true exactly once, during
// address assignment, and is never cleared except by a full driver
// reset (re-entry into INIT, which a session timeout forces from any
// state).
type Module struct {
	Exist bool

	Voltage float32
	Cells   [cellsPerModule]Cell
	Temp1   float32
	Temp2   float32

	// Alerts, Faults, CovFaults and CuvFaults are the most recently
	// reported ALERT_STATUS / FAULT_STATUS / COV_FAULT / CUV_FAULT
	// register contents. They start at 0xFF (all faults asserted),
	// so HasFaults reports true until the first status read lands —
	// preserved from the original firmware; see DESIGN.md.
	Alerts    byte
	Faults    byte
	CovFaults byte
	CuvFaults byte
}

func (m *Module) reset() {
	*m = Module{
		Alerts:    0xFF,
		Faults:    0xFF,
		CovFaults: 0xFF,
		CuvFaults: 0xFF,
	}
}

// BalanceMask derives the 6-bit passive-balance activation mask, one
// bit per cell, from each cell's current Balancing state.
func (m *Module) BalanceMask() byte {
	var mask byte
	for i, c := range m.Cells {
		if c.Balancing {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// hasFault reports whether this module's most recently reported status
// carries any fault, cell-overvoltage or cell-undervoltage bit. Alert
// bits are informational and intentionally excluded, matching the
// original firmware.
func (m *Module) hasFault() bool {
	return m.Faults != 0 || m.CovFaults != 0 || m.CuvFaults != 0
}

package tbms

import (
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/evbms/tbms/internal/crc8"
)

// TaskEvent is the outcome of one protocol task invocation.
type TaskEvent int

const (
	TaskEventNone TaskEvent = iota
	TaskEventExitOK
	TaskEventExitFault
)

// setup-boards has three distinct await points; it needs its own named
// sub-steps since, unlike the single-round-trip tasks, it must resume
// at whichever round trip it last suspended in without recomputing
// anything it already decided (e.g. which slot it picked).
const (
	setupStepReadStatus = iota
	setupStepDrainTrailer
	setupStepAssign
)

const (
	valuesStepADCCtrl = iota
	valuesStepIOCtrl
	valuesStepADCConv
	valuesStepGPAI
)

const (
	balanceStepReset = iota
	balanceStepTime
	balanceStepMask
)

// taskDiscover broadcasts the reset/magic frame and expects every
// module on the chain to echo it back identically.
func (b *BMS) taskDiscover() TaskEvent {
	if !b.io.send(discoverCmd, len(discoverReply)) {
		return TaskEventNone
	}
	if b.io.validateReply(discoverReply) {
		return TaskEventExitOK
	}
	log.Warnf("[TASK] discover: unexpected reply %x", b.io.buf[:b.io.len])
	return TaskEventExitFault
}

// taskSetupBoards walks the chain one module at a time: the head of
// the yet-unaddressed chain always answers as address 0, so each pass
// reads its DEV_STATUS, and if one is present assigns it the lowest
// free slot before restarting (return TaskEventNone with the cursor
// already cleared) to address the next module in line.
func (b *BMS) taskSetupBoards() TaskEvent {
	switch b.taskStep {
	case setupStepReadStatus:
		if !b.io.send(devStatusCmd, 3) {
			return TaskEventNone
		}
		switch {
		case b.io.validateReply(replyChainEnd):
			b.taskStep = setupStepReadStatus
			return TaskEventExitOK
		case b.io.validateReply(replyModulePresent):
			b.taskStep = setupStepDrainTrailer
			return TaskEventNone
		default:
			log.Warnf("[TASK] setup-boards: unexpected DEV_STATUS reply %x", b.io.buf[:b.io.len])
			b.taskStep = setupStepReadStatus
			return TaskEventExitFault
		}

	case setupStepDrainTrailer:
		// Two trailing bytes arrive ~45us after the DEV_STATUS reply.
		if !b.io.recv(2) {
			return TaskEventNone
		}
		slot := b.nextFreeSlot()
		if slot < 0 {
			log.Warnf("[TASK] setup-boards: %v", ErrNoFreeSlot)
			b.taskStep = setupStepReadStatus
			return TaskEventExitFault
		}
		b.pendingSlot = slot
		b.taskStep = setupStepAssign
		fallthrough

	case setupStepAssign:
		cmd := []byte{cmdWrite, regAddrCtrl, byte(b.pendingSlot+1) | 0x80}
		if !b.io.send(cmd, 4) {
			return TaskEventNone
		}
		b.io.rxDone()
		expected := []byte{0x81, regAddrCtrl, byte(b.pendingSlot+1) + 0x80}
		ok := b.io.validateReply(expected)
		b.taskStep = setupStepReadStatus
		if !ok {
			log.Warnf("[TASK] setup-boards: address assignment echo mismatch %x", b.io.buf[:b.io.len])
			return TaskEventExitFault
		}
		b.modules[b.pendingSlot].Exist = true
		b.modulesCount++
		log.Infof("[TASK] setup-boards: addressed module at slot %d", b.pendingSlot)
		return TaskEventNone // restart to walk the next module in line

	default:
		b.taskStep = setupStepReadStatus
		return TaskEventNone
	}
}

// taskClearFaults broadcasts the select-all/clear sequence for
// ALERT_STATUS then FAULT_STATUS, four round trips in total.
func (b *BMS) taskClearFaults() TaskEvent {
	steps := [4][2]byte{
		{regAlertStatus, dataSelectAll},
		{regAlertStatus, dataClearZero},
		{regFaultStatus, dataSelectAll},
		{regFaultStatus, dataClearZero},
	}
	for b.taskStep < len(steps) {
		s := steps[b.taskStep]
		cmd := []byte{cmdBroadcast, s[0], s[1]}
		if !b.io.send(cmd, 4) {
			return TaskEventNone
		}
		b.taskStep++
	}
	b.taskStep = 0
	return TaskEventExitOK
}

// taskReadModuleStatus reads the 4-byte ALERT_STATUS..CUV_FAULT block
// from one module.
func (b *BMS) taskReadModuleStatus(id int) TaskEvent {
	addr := byte(id + 1)
	cmd := []byte{moduleCode(addr, false), regAlertStatus, 4}
	if !b.io.send(cmd, 7) {
		return TaskEventNone
	}
	m := &b.modules[id]
	m.Alerts = b.io.buf[3]
	m.Faults = b.io.buf[4]
	m.CovFaults = b.io.buf[5]
	m.CuvFaults = b.io.buf[6]
	return TaskEventExitOK
}

// taskReadModuleValues triggers a full ADC conversion on one module
// (enabling all channels and the temperature VSS pins) and reads back
// pack voltage, six cell voltages and two thermistor temperatures.
func (b *BMS) taskReadModuleValues(id int) TaskEvent {
	addr := byte(id + 1)
	switch b.taskStep {
	case valuesStepADCCtrl:
		cmd := []byte{moduleCode(addr, true), regADCCtrl, adcCtrlEnableAll}
		if !b.io.send(cmd, 4) {
			return TaskEventNone
		}
		b.taskStep = valuesStepIOCtrl
		fallthrough

	case valuesStepIOCtrl:
		cmd := []byte{moduleCode(addr, true), regIOCtrl, ioCtrlEnableTemps}
		if !b.io.send(cmd, 4) {
			return TaskEventNone
		}
		b.taskStep = valuesStepADCConv
		fallthrough

	case valuesStepADCConv:
		cmd := []byte{moduleCode(addr, true), regADCConv, 1}
		if !b.io.send(cmd, 4) {
			return TaskEventNone
		}
		b.taskStep = valuesStepGPAI
		fallthrough

	case valuesStepGPAI:
		cmd := []byte{moduleCode(addr, false), regGPAI, moduleValuesData}
		if !b.io.send(cmd, moduleValuesLen) {
			return TaskEventNone
		}
		b.taskStep = valuesStepADCCtrl
		b.decodeModuleValues(id)
		return TaskEventExitOK

	default:
		b.taskStep = valuesStepADCCtrl
		return TaskEventNone
	}
}

// decodeModuleValues validates the GPAI read reply's CRC and header
// before decoding it; on mismatch the previous values are left
// unchanged — corruption is common on this bus and self-heals on the
// next sweep.
func (b *BMS) decodeModuleValues(id int) {
	buf := b.io.buf[:moduleValuesLen]
	want := crc8.Checksum(buf[:moduleValuesLen-1])
	addr := moduleCode(byte(id+1), false)
	if buf[moduleValuesLen-1] != want || buf[0] != addr || buf[1] != regGPAI || buf[2] != moduleValuesData {
		log.Debugf("[TASK] read-module-values: corrupt reply for module %d: %x", id, buf)
		return
	}
	m := &b.modules[id]
	m.Voltage = float32(be16(buf[3], buf[4])) * voltageScalePack
	for i := 0; i < cellsPerModule; i++ {
		m.Cells[i].Voltage = float32(be16(buf[5+i*2], buf[6+i*2])) * voltageScaleCell
	}
	m.Temp1 = thermistorTemp(be16(buf[17], buf[18]))
	m.Temp2 = thermistorTemp(be16(buf[19], buf[20]))
}

// taskBalanceCells recomputes the hysteresis-driven balance decision
// for each cell and, if any cell needs balancing, resets the module's
// on-board balance timer before writing the new mask.
func (b *BMS) taskBalanceCells(id int) TaskEvent {
	m := &b.modules[id]
	addr := byte(id + 1)

	if b.taskStep == balanceStepReset {
		b.recomputeBalance(m)
		if m.BalanceMask() == 0 {
			return TaskEventExitOK
		}
	}

	switch b.taskStep {
	case balanceStepReset:
		cmd := []byte{moduleCode(addr, true), regBalCtrl, 0}
		if !b.io.send(cmd, 4) {
			return TaskEventNone
		}
		b.taskStep = balanceStepTime
		fallthrough

	case balanceStepTime:
		cmd := []byte{moduleCode(addr, true), regBalTime, balanceTimeSecs}
		if !b.io.send(cmd, 4) {
			return TaskEventNone
		}
		b.taskStep = balanceStepMask
		fallthrough

	case balanceStepMask:
		cmd := []byte{moduleCode(addr, true), regBalCtrl, m.BalanceMask()}
		if !b.io.send(cmd, 4) {
			return TaskEventNone
		}
		b.taskStep = balanceStepReset
		return TaskEventExitOK

	default:
		b.taskStep = balanceStepReset
		return TaskEventNone
	}
}

// recomputeBalance applies hysteresis: a cell above BalanceVoltage gets
// its balance bit set, a cell below BalanceVoltage-BalanceHysteresis
// gets it cleared, anything in between keeps its prior bit.
func (b *BMS) recomputeBalance(m *Module) {
	release := b.cfg.BalanceVoltage - b.cfg.BalanceHysteresis
	for i := range m.Cells {
		v := m.Cells[i].Voltage
		switch {
		case v > b.cfg.BalanceVoltage:
			m.Cells[i].Balancing = true
		case v < release:
			m.Cells[i].Balancing = false
		}
	}
}

func (b *BMS) nextFreeSlot() int {
	for i := range b.modules {
		if !b.modules[i].Exist {
			return i
		}
	}
	return -1
}

func be16(hi, lo byte) uint16 {
	return uint16(hi)<<8 | uint16(lo)
}

// thermistorTemp applies the module's fixed NTC transfer function to a
// raw 16-bit ADC reading, returning degrees Celsius.
func thermistorTemp(raw uint16) float32 {
	r := (1.78/((float64(raw)+2)/33046.0) - 3.57) * 1000.0
	lr := math.Log(r)
	denom := thermA + thermB*lr + thermC*lr*lr*lr
	return float32(1.0/denom - 273.15)
}

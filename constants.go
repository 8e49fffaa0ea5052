package tbms

import "time"

// Wire-protocol constants, register map and frame layout for the
// daisy-chained module string. Register addresses and frame shapes are
// taken from the module controller's documented register map.
const (
	MaxModules     = 0x3E // module slots 1..0x3E (62)
	MaxIOBufferLen = 40   // bytes, fixed capacity of the Session buffer

	cmdRead      = 0x00
	cmdWrite     = 0x01
	cmdBroadcast = 0x7F

	regDevStatus   = 0x00
	regGPAI        = 0x01
	regVCell1      = 0x03
	regTemperature1 = 0x0F
	regTemperature2 = 0x11
	regAlertStatus  = 0x20
	regFaultStatus  = 0x21
	regCOVFault     = 0x22
	regCUVFault     = 0x23
	regADCCtrl      = 0x30
	regIOCtrl       = 0x31
	regBalCtrl      = 0x32
	regBalTime      = 0x33
	regADCConv      = 0x34
	regAddrCtrl     = 0x3B
	regReset        = 0x3C

	dataSelectAll = 0xFF
	dataClearZero = 0x00

	resetMagic = 0xA5

	adcCtrlEnableAll  = 0b00111101
	ioCtrlEnableTemps = 0b00000011
	balanceTimeSecs   = 130

	cellsPerModule    = 6
	moduleValuesLen   = 22 // addr, reg, len, 18 data bytes, crc
	moduleValuesData  = 18

	// DefaultTimeout is the inactivity timeout applied to a Session
	// when it isn't overridden by Config.
	DefaultTimeout = 100 * time.Millisecond

	// sweepGap is the minimum pause between full module sweeps, and
	// also the connection-establishment retry backoff.
	sweepGap = 1 * time.Second

	// DefaultBalanceVoltage and DefaultBalanceHysteresis are the
	// factory thresholds for passive cell balancing.
	DefaultBalanceVoltage    = float32(3.9)
	DefaultBalanceHysteresis = float32(0.04)

	voltageScalePack = 0.002034609
	voltageScaleCell = 0.000381493

	// Thermistor transfer function constants (fixed NTC curve fit).
	thermA = 7.610373573e-4
	thermB = 2.728524832e-4
	thermC = 1.022822735e-7
)

// moduleCode returns the shifted module address used as the command
// byte's upper bits, for either read (write=false) or write (write=true)
// access to module address addr. addr 0 addresses the unaddressed head
// of the chain during discovery/address assignment.
func moduleCode(addr byte, write bool) byte {
	c := addr << 1
	if write {
		c |= 1
	}
	return c
}

var (
	discoverCmd   = []byte{cmdBroadcast, regReset, resetMagic}
	discoverReply = []byte{0x7F, 0x3C, 0xA5, 0x57}

	devStatusCmd      = []byte{cmdRead, regDevStatus, 0x01}
	replyChainEnd     = []byte{0x00, 0x00, 0x01}
	replyModulePresent = []byte{0x80, 0x00, 0x01}
)

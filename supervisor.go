package tbms

import (
	"math"
	"time"

	log "github.com/sirupsen/logrus"
)

// supervisorState is the top-level connection state machine.
type supervisorState int

const (
	StateInit supervisorState = iota
	StateEstablishConnection
	StateConnectionEstablished
)

func (s supervisorState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateEstablishConnection:
		return "ESTABLISH_CONNECTION"
	case StateConnectionEstablished:
		return "CONNECTION_ESTABLISHED"
	default:
		return "UNKNOWN"
	}
}

// establishmentTasks is the fixed sequence of one-shot tasks that must
// each succeed, in order, before the chain is considered established.
// taskIndex walks this list; taskStep is the shared cursor each task
// itself uses internally, since only one task is ever mid-flight.
var establishmentTasks = []func(*BMS) TaskEvent{
	(*BMS).taskDiscover,
	(*BMS).taskSetupBoards,
	(*BMS).taskClearFaults,
}

// BMS is the supervisor driving one module chain over a single
// Session. Update must be called on a steady tick; it performs exactly
// one quantum of progress per call, though a round trip that completes
// synchronously (reply already buffered) may chain through several
// sub-steps within the same call.
type BMS struct {
	cfg Config
	io  *Session

	modules      [MaxModules]Module
	modulesCount int

	state supervisorState

	// taskIndex/taskStep drive ESTABLISH_CONNECTION: taskIndex selects
	// which entry of establishmentTasks is running, taskStep is that
	// task's own internal cursor (reused verbatim by setup-boards and
	// the others that need an internal sub-state).
	taskIndex   int
	taskStep    int
	pendingSlot int

	// modSel/sweepStep drive the per-module sweep in
	// CONNECTION_ESTABLISHED: modSel is the slot under service,
	// sweepStep which of {status, values, balance} is running for it.
	modSel    int
	sweepStep int

	// backoffActive/timer is the one shared 1-second backoff helper,
	// reused at all three wait points: INIT entry, ESTABLISH_CONNECTION
	// retry-after-fault, and the inter-sweep pause.
	backoffActive bool
	timer         time.Duration

	ready bool
}

// NewBMS constructs a supervisor in the INIT state.
func NewBMS(cfg Config) *BMS {
	b := &BMS{cfg: cfg, io: newSession(cfg)}
	for i := range b.modules {
		b.modules[i].reset()
	}
	return b
}

// Update drives the session and the supervisor state machine forward
// by one tick. delta is wall-clock time elapsed since the previous
// call.
func (b *BMS) Update(delta time.Duration) {
	b.io.Update(delta)

	if b.io.State() == IOStateTimeout {
		log.Warnf("[BMS] session timeout observed in state %v, forcing re-establishment", b.state)
		b.enterInit()
	}

	switch b.state {
	case StateInit:
		b.stepInit(delta)
	case StateEstablishConnection:
		b.stepEstablishConnection(delta)
	case StateConnectionEstablished:
		b.stepConnectionEstablished(delta)
	}
}

// awaitBackoff advances the shared backoff timer and reports whether
// the wait is over. First call of a wait arms the timer; delta does
// not need to be re-passed on every call so long as it's the same
// delta Update was given.
func (b *BMS) awaitBackoff(delta time.Duration) bool {
	if !b.backoffActive {
		b.backoffActive = true
		b.timer = 0
		return false
	}
	b.timer += delta
	if b.timer < b.cfg.SweepInterval {
		return false
	}
	b.backoffActive = false
	b.timer = 0
	return true
}

func (b *BMS) enterInit() {
	b.state = StateInit
	b.taskIndex = 0
	b.taskStep = 0
	b.backoffActive = false
	b.timer = 0
	b.ready = false
	b.modSel = 0
	b.sweepStep = 0
	b.resetModules()
}

func (b *BMS) resetModules() {
	for i := range b.modules {
		b.modules[i].reset()
	}
	b.modulesCount = 0
}

// stepInit waits out the initial backoff (letting any stale traffic on
// the bus settle) before moving to ESTABLISH_CONNECTION.
func (b *BMS) stepInit(delta time.Duration) {
	if !b.awaitBackoff(delta) {
		return
	}
	log.Infof("[BMS] INIT -> ESTABLISH_CONNECTION")
	b.state = StateEstablishConnection
	b.taskIndex = 0
	b.taskStep = 0
}

// stepEstablishConnection runs establishmentTasks in order. A task
// fault restarts the whole sequence from the first task after a
// backoff; exhausting the list successfully promotes to
// CONNECTION_ESTABLISHED.
func (b *BMS) stepEstablishConnection(delta time.Duration) {
	if b.backoffActive {
		if !b.awaitBackoff(delta) {
			return
		}
		b.taskIndex = 0
		b.taskStep = 0
	}

	if b.taskIndex >= len(establishmentTasks) {
		log.Infof("[BMS] ESTABLISH_CONNECTION -> CONNECTION_ESTABLISHED (%d modules)", b.modulesCount)
		b.state = StateConnectionEstablished
		b.modSel = 0
		b.sweepStep = 0
		b.ready = true
		return
	}

	switch establishmentTasks[b.taskIndex](b) {
	case TaskEventNone:
		return
	case TaskEventExitOK:
		b.taskIndex++
		b.taskStep = 0
	case TaskEventExitFault:
		log.Warnf("[BMS] establishment task %d faulted, retrying after backoff", b.taskIndex)
		b.taskIndex = 0
		b.taskStep = 0
		b.backoffActive = true
		b.timer = 0
	}
}

// stepConnectionEstablished sweeps every addressed module in slot
// order: reading values, recomputing balance off those freshly-read
// voltages, then reading status, before pausing for SweepInterval and
// starting over.
func (b *BMS) stepConnectionEstablished(delta time.Duration) {
	if b.backoffActive {
		if !b.awaitBackoff(delta) {
			return
		}
		b.modSel = 0
		b.sweepStep = 0
		return
	}

	for b.modSel < len(b.modules) && !b.modules[b.modSel].Exist {
		b.modSel++
	}
	if b.modSel >= len(b.modules) {
		b.backoffActive = true
		b.timer = 0
		return
	}

	const (
		sweepValues = iota
		sweepBalance
		sweepStatus
	)

	var ev TaskEvent
	switch b.sweepStep {
	case sweepValues:
		ev = b.taskReadModuleValues(b.modSel)
	case sweepBalance:
		ev = b.taskBalanceCells(b.modSel)
	case sweepStatus:
		ev = b.taskReadModuleStatus(b.modSel)
	}

	if ev == TaskEventNone {
		return
	}

	b.taskStep = 0
	switch b.sweepStep {
	case sweepValues, sweepBalance:
		b.sweepStep++
	case sweepStatus:
		b.sweepStep = sweepValues
		b.modSel++
	}
}

// --- public accessors ---

// IsReady reports whether the chain has completed establishment at
// least once and is now cycling through sweeps.
func (b *BMS) IsReady() bool { return b.ready }

// HasFaults reports whether any addressed module currently carries a
// fault, cell-overvoltage or cell-undervoltage condition.
func (b *BMS) HasFaults() bool {
	for i := range b.modules {
		if b.modules[i].Exist && b.modules[i].hasFault() {
			return true
		}
	}
	return false
}

// ModuleCount returns the number of modules addressed on the chain.
func (b *BMS) ModuleCount() int { return b.modulesCount }

func (b *BMS) moduleAt(id int) (*Module, bool) {
	if id < 0 || id >= len(b.modules) || !b.modules[id].Exist {
		return nil, false
	}
	return &b.modules[id], true
}

// ModuleVoltage returns the module's most recently read pack voltage,
// or NaN if id does not name an addressed module.
func (b *BMS) ModuleVoltage(id int) float32 {
	m, ok := b.moduleAt(id)
	if !ok {
		return float32(math.NaN())
	}
	return m.Voltage
}

// ModuleCellVoltage returns one cell's most recently read voltage, or
// NaN if id or cell is out of range.
func (b *BMS) ModuleCellVoltage(id, cell int) float32 {
	m, ok := b.moduleAt(id)
	if !ok || cell < 0 || cell >= cellsPerModule {
		return float32(math.NaN())
	}
	return m.Cells[cell].Voltage
}

// ModuleTemp1 returns the module's first thermistor reading in
// degrees Celsius, or NaN if id does not name an addressed module.
func (b *BMS) ModuleTemp1(id int) float32 {
	m, ok := b.moduleAt(id)
	if !ok {
		return float32(math.NaN())
	}
	return m.Temp1
}

// ModuleTemp2 returns the module's second thermistor reading in
// degrees Celsius, or NaN if id does not name an addressed module.
func (b *BMS) ModuleTemp2(id int) float32 {
	m, ok := b.moduleAt(id)
	if !ok {
		return float32(math.NaN())
	}
	return m.Temp2
}

// State returns the supervisor's top-level connection state.
func (b *BMS) State() supervisorState { return b.state }

// --- transport delegation ---

func (b *BMS) TxAvailable() bool { return b.io.TxAvailable() }
func (b *BMS) TxBuf() []byte     { return b.io.TxBuf() }
func (b *BMS) TxLen() int        { return b.io.TxLen() }
func (b *BMS) TxFlush()          { b.io.TxFlush() }
func (b *BMS) RxAvailable() bool { return b.io.RxAvailable() }
func (b *BMS) SetRx(v byte)      { b.io.SetRx(v) }

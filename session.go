package tbms

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/evbms/tbms/internal/crc8"
)

// IOState is the Session's state, see the state table in the protocol
// design notes.
type IOState int

const (
	IOStateIdle IOState = iota
	IOStateWaitForSend
	IOStateWaitForReply
	IOStateRxDone
	IOStateTimeout
)

func (s IOState) String() string {
	switch s {
	case IOStateIdle:
		return "IDLE"
	case IOStateWaitForSend:
		return "WAIT_FOR_SEND"
	case IOStateWaitForReply:
		return "WAIT_FOR_REPLY"
	case IOStateRxDone:
		return "RX_DONE"
	case IOStateTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Session frames exactly one outstanding request/response exchange
// with the module string. It exposes tx/rx primitives to the transport
// and send/recv primitives to the protocol tasks; see the transport
// contract and §4.2 of the protocol design for the full description.
//
// sendActive and recvActive are the session's two resumption cursors:
// a false value is the "cursor is null" state from the design notes.
// All state that must survive a cooperative suspension point lives
// here, never in a task's local variables.
type Session struct {
	timeout time.Duration

	state IOState
	buf   [MaxIOBufferLen]byte
	len   int
	ready bool

	timer time.Duration

	sendActive bool
	recvActive bool
}

func newSession(cfg Config) *Session {
	return &Session{timeout: cfg.Timeout}
}

// Update advances the inactivity timer and applies the timeout policy.
// The timer resets to zero whenever either cursor is not yet in
// flight — so a lone in-flight send awaiting TxFlush, or a standalone
// recv() drain, never accumulates time on its own; only a fully
// established send-then-receive round trip (both cursors active) can
// run the clock out. TIMEOUT is sticky for exactly one Update call so
// a caller can observe it before the session self-heals back to IDLE
// on the next call.
func (s *Session) Update(delta time.Duration) {
	if !s.sendActive || !s.recvActive {
		s.timer = 0
	} else {
		s.timer += delta
	}

	switch {
	case s.state == IOStateTimeout:
		log.Debugf("[IO] timeout self-heal, buf=%x", s.buf[:s.len])
		s.reset()
	case s.timer >= s.timeout:
		log.Warnf("[IO] inactivity timeout after %v in state %v", s.timer, s.state)
		s.state = IOStateTimeout
	}
}

func (s *Session) reset() {
	s.state = IOStateIdle
	s.len = 0
	s.ready = false
	s.sendActive = false
	s.recvActive = false
	s.timer = 0
}

// State returns the session's current state, for supervisors that must
// react to TIMEOUT.
func (s *Session) State() IOState { return s.state }

// --- transport-facing primitives ---

// TxAvailable reports whether the transport has outbound bytes to send.
func (s *Session) TxAvailable() bool {
	return s.state == IOStateWaitForSend && s.ready
}

// TxBuf returns the pending outbound frame. Only valid while
// TxAvailable is true.
func (s *Session) TxBuf() []byte { return s.buf[:s.len] }

// TxLen returns len(TxBuf()).
func (s *Session) TxLen() int { return s.len }

// TxFlush must be called by the transport once it has transmitted
// TxBuf() on the physical link.
func (s *Session) TxFlush() {
	if s.state == IOStateWaitForSend {
		s.ready = false
	}
}

// RxAvailable reports whether the session is ready to accept the next
// received byte.
func (s *Session) RxAvailable() bool {
	return s.state == IOStateWaitForReply && s.ready
}

// SetRx appends one received byte. The transport must only call this
// when RxAvailable is true; calling it otherwise is a contract
// violation and panics, per the fatal-abort error kind in the error
// handling design.
func (s *Session) SetRx(b byte) {
	if !s.RxAvailable() {
		panic(ErrRxNotReady)
	}
	s.ready = false
	if s.len >= len(s.buf) {
		panic(ErrRxBufferFull)
	}
	s.buf[s.len] = b
	s.len++
}

// --- task-facing cooperative primitives ---

// recv is the resumable receive primitive. See §4.2: first entry clears
// ready/len, resets the timer and enters WAIT_FOR_REPLY; each
// resumption sets ready=true to solicit another byte and returns false
// until len >= expected; it then yields once in RX_DONE before
// returning to IDLE and returning true.
func (s *Session) recv(expected int) bool {
	if !s.recvActive {
		s.ready = false
		s.len = 0
		s.timer = 0
		s.state = IOStateWaitForReply
		s.recvActive = true
		return false
	}
	switch s.state {
	case IOStateWaitForReply:
		s.ready = true
		if s.len < expected {
			return false
		}
		s.state = IOStateRxDone
		return false
	case IOStateRxDone:
		s.state = IOStateIdle
		s.recvActive = false
		return true
	default:
		return false
	}
}

// send is the resumable send-then-receive primitive. Copies payload
// into the buffer; if the command byte's low bit (write mode) is set,
// appends a CRC-8 over the frame before transmission. Awaits the
// transport flushing the outbound bytes, then awaits the expected
// reply via recv. Returns true only once the full round trip has
// completed.
func (s *Session) send(payload []byte, expectedReplyLen int) bool {
	if !s.sendActive {
		copy(s.buf[:], payload)
		s.len = len(payload)
		if s.buf[0]&1 == 1 {
			s.buf[0] |= 1
			s.buf[s.len] = crc8.Checksum(s.buf[:s.len])
			s.len++
		}
		s.ready = true
		s.state = IOStateWaitForSend
		s.sendActive = true
		return false
	}
	if s.state == IOStateWaitForSend && s.ready {
		return false
	}
	if s.recv(expectedReplyLen) {
		s.sendActive = false
		return true
	}
	return false
}

// rxDone is the cooperative abort primitive: if no receive is in
// flight it is a no-op returning true; otherwise it forces RX_DONE and
// clears both cursors immediately, without waiting for the trailing
// bytes of a reply a task no longer cares about.
func (s *Session) rxDone() bool {
	if !s.recvActive {
		return true
	}
	s.state = IOStateRxDone
	s.sendActive = false
	s.recvActive = false
	return true
}

// validateReply byte-compares expected against the first len(expected)
// bytes currently in the buffer.
func (s *Session) validateReply(expected []byte) bool {
	if s.len < len(expected) {
		return false
	}
	for i, b := range expected {
		if s.buf[i] != b {
			return false
		}
	}
	return true
}

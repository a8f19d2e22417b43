package rv

// Terminal is the byte-level console port behind the UART. PutByte must not
// block the hart; GetInput returns 0 when no byte is pending.
type Terminal interface {
	PutByte(b byte)
	GetInput() byte
}

// UART register offsets (16550 subset)
const (
	uartTHR = 0 // transmit holding / receive buffer
	uartLSR = 5 // line status
)

// LSR values
const (
	lsrTHREmpty  = 0x20
	lsrDataReady = 0x01
)

// UART is a 16550 subset: transmit write-through, one-byte receive buffer,
// input polled every 64Ki ticks.
type UART struct {
	clock           uint64
	receiveRegister byte
	lineStatus      byte
	interrupting    bool
	terminal        Terminal
}

// NewUART creates the UART with the transmitter reported empty.
func NewUART(terminal Terminal) *UART {
	return &UART{
		lineStatus: lsrTHREmpty,
		terminal:   terminal,
	}
}

// Tick polls the terminal for input. The divisor keeps polling cost out of
// the hart hot path; a pending unread byte pauses polling.
func (u *UART) Tick() {
	u.clock++
	if u.clock%0x10000 == 0 && !u.interrupting {
		if value := u.terminal.GetInput(); value != 0 {
			u.interrupting = true
			u.receiveRegister = value
			u.lineStatus = lsrDataReady
		}
	}
}

// IsInterrupting reports whether a received byte is waiting.
func (u *UART) IsInterrupting() bool {
	return u.interrupting
}

// Load reads one register byte. Reading RBR consumes the pending byte.
func (u *UART) Load(offset uint64) byte {
	switch offset {
	case uartTHR:
		value := u.receiveRegister
		u.receiveRegister = 0
		u.lineStatus = lsrTHREmpty
		u.interrupting = false
		return value
	case uartLSR:
		return u.lineStatus
	}
	return 0
}

// Store writes one register byte. Writing THR forwards straight to the
// terminal.
func (u *UART) Store(offset uint64, val byte) {
	switch offset {
	case uartTHR:
		u.terminal.PutByte(val)
	}
}

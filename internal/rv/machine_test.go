package rv

import (
	"errors"
	"testing"
)

// testTerminal is an in-memory console for the UART.
type testTerminal struct {
	out []byte
	in  []byte
}

func (t *testTerminal) PutByte(b byte) {
	t.out = append(t.out, b)
}

func (t *testTerminal) GetInput() byte {
	if len(t.in) == 0 {
		return 0
	}
	b := t.in[0]
	t.in = t.in[1:]
	return b
}

func newTestMachine(t *testing.T, xlen Xlen) (*Machine, *testTerminal) {
	t.Helper()
	terminal := &testTerminal{}
	m := NewMachine(xlen, terminal)
	m.CPU.MMU.InitMemory(1024 * 1024)
	m.CPU.PC = DRAMBase
	return m, terminal
}

func loadCode(m *Machine, addr uint64, code []uint32) {
	for i, insn := range code {
		m.CPU.MMU.StoreWordRaw(addr+uint64(i*4), insn)
	}
}

func step(t *testing.T, m *Machine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := m.Tick(); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
}

func TestALUOperations(t *testing.T) {
	m, _ := newTestMachine(t, Xlen64)

	code := []uint32{
		0x00a00513, // li a0, 10
		0x00300593, // li a1, 3
		0x00b50633, // add a2, a0, a1
		0x40b506b3, // sub a3, a0, a1
		0x00b57733, // and a4, a0, a1
		0x00b567b3, // or a5, a0, a1
		0x00b54833, // xor a6, a0, a1
	}
	loadCode(m, DRAMBase, code)
	step(t, m, len(code))

	want := map[int]int64{12: 13, 13: 7, 14: 2, 15: 11, 16: 9}
	for reg, val := range want {
		if m.CPU.X[reg] != val {
			t.Errorf("x%d = %d, want %d", reg, m.CPU.X[reg], val)
		}
	}
}

func TestBranchTaken(t *testing.T) {
	m, _ := newTestMachine(t, Xlen64)

	code := []uint32{
		0x00500513, // li a0, 5
		0x00500593, // li a1, 5
		0x00000613, // li a2, 0
		0x00b50463, // beq a0, a1, +8
		0x00100613, // li a2, 1 (skipped)
		0x00a60613, // addi a2, a2, 10
	}
	loadCode(m, DRAMBase, code)
	step(t, m, 5)

	if m.CPU.X[12] != 10 {
		t.Errorf("a2 = %d, want 10", m.CPU.X[12])
	}
}

func TestMultiplyDivide(t *testing.T) {
	m, _ := newTestMachine(t, Xlen64)

	code := []uint32{
		0x00700513, // li a0, 7
		0x00300593, // li a1, 3
		0x02b50633, // mul a2, a0, a1
		0x02b546b3, // div a3, a0, a1
		0x02b56733, // rem a4, a0, a1
	}
	loadCode(m, DRAMBase, code)
	step(t, m, len(code))

	if m.CPU.X[12] != 21 {
		t.Errorf("mul: %d, want 21", m.CPU.X[12])
	}
	if m.CPU.X[13] != 2 {
		t.Errorf("div: %d, want 2", m.CPU.X[13])
	}
	if m.CPU.X[14] != 1 {
		t.Errorf("rem: %d, want 1", m.CPU.X[14])
	}
}

func TestDivideByZero(t *testing.T) {
	m, _ := newTestMachine(t, Xlen64)

	code := []uint32{
		0x00700513, // li a0, 7
		0x00000593, // li a1, 0
		0x02b54633, // div a2, a0, a1
		0x02b566b3, // rem a3, a0, a1
		0x02b55733, // divu a4, a0, a1
		0x02b577b3, // remu a5, a0, a1
	}
	loadCode(m, DRAMBase, code)
	step(t, m, len(code))

	if m.CPU.X[12] != -1 {
		t.Errorf("div by zero: %d, want -1", m.CPU.X[12])
	}
	if m.CPU.X[13] != 7 {
		t.Errorf("rem by zero: %d, want the dividend 7", m.CPU.X[13])
	}
	if m.CPU.X[14] != -1 {
		t.Errorf("divu by zero: %#x, want all ones", uint64(m.CPU.X[14]))
	}
	if m.CPU.X[15] != 7 {
		t.Errorf("remu by zero: %d, want the dividend 7", m.CPU.X[15])
	}
}

func TestDivideOverflow(t *testing.T) {
	m, _ := newTestMachine(t, Xlen64)

	// a0 = INT64_MIN, a1 = -1
	code := []uint32{
		0x00100513, // li a0, 1
		0x03f51513, // slli a0, a0, 63
		0xfff00593, // li a1, -1
		0x02b54633, // div a2, a0, a1
		0x02b566b3, // rem a3, a0, a1
	}
	loadCode(m, DRAMBase, code)
	step(t, m, len(code))

	if m.CPU.X[12] != m.CPU.X[10] {
		t.Errorf("div overflow: %#x, want the dividend", uint64(m.CPU.X[12]))
	}
	if m.CPU.X[13] != 0 {
		t.Errorf("rem overflow: %d, want 0", m.CPU.X[13])
	}
}

// Store then load through DRAM, ending in an ECALL from machine mode.
func TestStoreLoadEcall(t *testing.T) {
	m, _ := newTestMachine(t, Xlen32)

	program := []uint32{
		0x80010537, // lui a0, 0x80010
		0x000015b7, // lui a1, 0x1
		0x23458593, // addi a1, a1, 0x234  ; a1 = 0x1234
		0x00b52023, // sw a1, 0(a0)
		0x00052603, // lw a2, 0(a0)
		0x00000073, // ecall
	}
	loadCode(m, DRAMBase, program)

	step(t, m, 4)
	for i, want := range []byte{0x34, 0x12, 0x00, 0x00} {
		if got := m.CPU.MMU.LoadRaw(0x80010000 + uint64(i)); got != want {
			t.Errorf("memory[0x%x] = %#02x, want %#02x", 0x80010000+i, got, want)
		}
	}

	step(t, m, 1)
	if m.CPU.X[12] != 0x1234 {
		t.Errorf("lw: %#x, want 0x1234", m.CPU.X[12])
	}

	ecallAddr := DRAMBase + uint64(5*4)
	step(t, m, 1)
	if got := m.CPU.readCSRRaw(CSRMcause); got != CauseEcallFromM {
		t.Errorf("mcause = %d, want %d", got, CauseEcallFromM)
	}
	if got := m.CPU.readCSRRaw(CSRMepc); got != ecallAddr {
		t.Errorf("mepc = %#x, want %#x", got, ecallAddr)
	}
	if m.CPU.Priv != PrivMachine {
		t.Errorf("priv = %d, want machine", m.CPU.Priv)
	}
}

func TestRV32SignExtensionInvariant(t *testing.T) {
	m, _ := newTestMachine(t, Xlen32)

	code := []uint32{
		0xfff00513, // li a0, -1
		0x00100593, // li a1, 1
		0x00b50533, // add a0, a0, a1 ; wraps to 0
		0x80000537, // lui a0, 0x80000 ; negative in 32-bit
	}
	loadCode(m, DRAMBase, code)
	step(t, m, 3)
	if m.CPU.X[10] != 0 {
		t.Errorf("wrap: %#x, want 0", uint64(m.CPU.X[10]))
	}
	step(t, m, 1)
	if uint64(m.CPU.X[10]) != 0xffffffff80000000 {
		t.Errorf("upper half not the sign extension: %#x", uint64(m.CPU.X[10]))
	}
}

func TestX0AlwaysZero(t *testing.T) {
	m, _ := newTestMachine(t, Xlen64)

	code := []uint32{
		0x06400013, // addi x0, x0, 100
		0x00000033, // add x0, x0, x0
	}
	loadCode(m, DRAMBase, code)
	for i := 0; i < len(code); i++ {
		step(t, m, 1)
		if m.CPU.X[0] != 0 {
			t.Fatalf("x0 = %d after instruction %d", m.CPU.X[0], i)
		}
	}
}

func TestUnknownInstructionIsFatal(t *testing.T) {
	m, _ := newTestMachine(t, Xlen64)

	loadCode(m, DRAMBase, []uint32{0xffffffff})
	err := m.Tick()
	if err == nil {
		t.Fatal("expected a fatal error for an undecodable word")
	}
	var exc ExceptionError
	if errors.As(err, &exc) {
		t.Fatalf("undecodable word surfaced as a trap: %v", err)
	}
}

func TestUARTOutput(t *testing.T) {
	m, terminal := newTestMachine(t, Xlen64)

	code := []uint32{
		0x10000537, // lui a0, 0x10000
		0x04800593, // li a1, 'H'
		0x00b50023, // sb a1, 0(a0)
		0x06900593, // li a1, 'i'
		0x00b50023, // sb a1, 0(a0)
	}
	loadCode(m, DRAMBase, code)
	step(t, m, len(code))

	if got := string(terminal.out); got != "Hi" {
		t.Errorf("uart output %q, want %q", got, "Hi")
	}
}

func TestCycleCounter(t *testing.T) {
	m, _ := newTestMachine(t, Xlen64)

	loadCode(m, DRAMBase, []uint32{
		0x00000013, // nop
		0x00000013, // nop
		0x00000013, // nop
	})
	step(t, m, 3)
	if m.CPU.Cycle != 3 {
		t.Errorf("cycle = %d, want 3", m.CPU.Cycle)
	}
	if got := m.CPU.readCSRRaw(CSRCycle); got != 3 {
		t.Errorf("cycle CSR = %d, want 3", got)
	}
}

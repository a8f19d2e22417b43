// Package rvemu emulates a single RV32/RV64 hart with enough platform
// around it (CLINT, PLIC, UART, virtio block) to boot xv6 and Linux and to
// run the riscv-tests suite.
package rvemu

import (
	"context"
	"fmt"

	"github.com/softcores/rvemu/internal/elfx"
	"github.com/softcores/rvemu/internal/rv"
)

// Memory sizing: riscv-tests binaries are tiny; everything else gets
// enough to run xv6 or a small Linux.
const (
	TestMemorySize    uint64 = 512 * 1024
	ProgramMemorySize uint64 = 128 * 1024 * 1024
)

// ticksPerPoll is how many cycles Run executes between context checks.
const ticksPerPoll = 100000

// Terminal is the console port the emulator drives. PutByte must never
// block; GetInput returns 0 when no byte is pending.
type Terminal = rv.Terminal

// Emulator wires a machine to a terminal and a program image.
type Emulator struct {
	machine *rv.Machine

	isTest     bool
	tohostAddr uint64
}

// New creates an emulator in RV64 mode. SetupProgram adjusts the width to
// the loaded image.
func New(terminal Terminal) *Emulator {
	return &Emulator{
		machine: rv.NewMachine(rv.Xlen64, terminal),
	}
}

// Machine exposes the underlying machine for embedders and tests.
func (e *Emulator) Machine() *rv.Machine {
	return e.machine
}

// IsTest reports whether the loaded image is a riscv-tests binary.
func (e *Emulator) IsTest() bool {
	return e.isTest
}

// SetupProgram parses an ELF image and configures the hart: register width
// from the ELF class, memory sized by whether a `.tohost` symbol is
// present, loadable sections placed into DRAM, PC at the entry point.
func (e *Emulator) SetupProgram(data []byte) error {
	prog, err := elfx.Load(data)
	if err != nil {
		return err
	}

	cpu := e.machine.CPU
	if prog.Xlen == 32 {
		cpu.SetXlen(rv.Xlen32)
	} else {
		cpu.SetXlen(rv.Xlen64)
	}

	e.isTest = prog.TohostAddr != 0
	e.tohostAddr = prog.TohostAddr
	if e.isTest {
		cpu.MMU.InitMemory(TestMemorySize)
	} else {
		cpu.MMU.InitMemory(ProgramMemorySize)
	}

	for _, seg := range prog.Segments {
		if seg.Addr < rv.DRAMBase {
			continue
		}
		cpu.MMU.Memory().LoadBytes(seg.Addr, seg.Data)
	}

	cpu.PC = prog.Entry
	return nil
}

// ForceXlen overrides the register width derived from the ELF class.
func (e *Emulator) ForceXlen(width int) error {
	switch width {
	case 32:
		e.machine.CPU.SetXlen(rv.Xlen32)
	case 64:
		e.machine.CPU.SetXlen(rv.Xlen64)
	default:
		return fmt.Errorf("unsupported XLEN %d (want 32 or 64)", width)
	}
	return nil
}

// SetupFilesystem attaches a disk image to the virtio block device.
func (e *Emulator) SetupFilesystem(data []byte) {
	e.machine.CPU.MMU.InitDisk(data)
}

// SetupDTB places a device tree blob in its read-only window.
func (e *Emulator) SetupDTB(data []byte) {
	e.machine.CPU.MMU.InitDTB(data)
}

// SetupDefaultDTB generates and installs a device tree describing this
// machine, for guests booted without an external blob.
func (e *Emulator) SetupDefaultDTB(cmdline string) {
	cpu := e.machine.CPU
	e.SetupDTB(rv.GenerateDTB(cpu.MMU.Memory().Size(), cmdline, cpu.Xlen))
}

// EnablePageCache switches the MMU translation cache on or off.
func (e *Emulator) EnablePageCache(enable bool) {
	e.machine.CPU.MMU.EnableAddressCache(enable)
}

// Tick runs one machine cycle.
func (e *Emulator) Tick() error {
	return e.machine.Tick()
}

// Run executes the loaded image. Test images run until the `.tohost` word
// is written and return an error when the reported end code is not a pass;
// other images run until the context is cancelled or a fatal error.
func (e *Emulator) Run(ctx context.Context) error {
	if e.isTest {
		endcode, err := e.RunTest(ctx)
		if err != nil {
			return err
		}
		if endcode != 1 {
			return fmt.Errorf("test failed with end code %d", endcode)
		}
		return nil
	}
	return e.RunProgram(ctx)
}

// RunProgram ticks the machine until the context is cancelled.
func (e *Emulator) RunProgram(ctx context.Context) error {
	for {
		for i := 0; i < ticksPerPoll; i++ {
			if err := e.machine.Tick(); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// RunTest ticks the machine until the test writes a non-zero end code to
// `.tohost` and returns it. End code 1 means pass.
func (e *Emulator) RunTest(ctx context.Context) (uint64, error) {
	if !e.isTest {
		return 0, fmt.Errorf("loaded image has no .tohost symbol")
	}
	mmu := e.machine.CPU.MMU
	for i := 0; ; i++ {
		if err := e.machine.Tick(); err != nil {
			return 0, err
		}
		if endcode := mmu.LoadWordRaw(e.tohostAddr); endcode != 0 {
			return uint64(endcode), nil
		}
		if i%ticksPerPoll == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
	}
}

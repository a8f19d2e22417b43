package rv

import (
	"errors"
	"fmt"
)

// Machine is the per-tick orchestrator: it sequences instruction execution,
// device ticks and interrupt dispatch so that devices always observe a
// consistent post-instruction state and an interrupt is taken on the next
// cycle boundary.
type Machine struct {
	CPU *CPU
}

// NewMachine creates a machine around a fresh hart.
func NewMachine(xlen Xlen, terminal Terminal) *Machine {
	return &Machine{CPU: NewCPU(xlen, terminal)}
}

// Tick runs one cycle: execute at most one instruction, tick the devices,
// dispatch at most one interrupt, advance the clock. A returned error is
// fatal; guest traps never surface here.
func (m *Machine) Tick() error {
	cpu := m.CPU
	instructionAddress := cpu.PC

	if !cpu.WFI {
		if err := cpu.tickExecute(); err != nil {
			var exc ExceptionError
			if !errors.As(err, &exc) {
				return fmt.Errorf("%w\n%s", err, cpu.DumpRegisters())
			}
			cpu.HandleTrap(exc, instructionAddress, false)
		}
	}

	if err := cpu.MMU.Tick(&cpu.CSR[CSRMip]); err != nil {
		return fmt.Errorf("%w\n%s", err, cpu.DumpRegisters())
	}

	cpu.HandleInterrupt(cpu.PC)

	cpu.Cycle++
	cpu.writeCSRRaw(CSRCycle, cpu.Cycle)
	return nil
}

// tickExecute fetches, expands and executes one instruction. PC is advanced
// past the instruction before execution, so jumps overwrite it and link
// registers read it directly.
func (cpu *CPU) tickExecute() error {
	word, err := cpu.MMU.FetchWord(cpu.PC)
	if err != nil {
		return err
	}

	addr := cpu.PC
	if word&0x3 == 0x3 {
		cpu.PC += 4
	} else {
		cpu.PC += 2
		word, err = cpu.Uncompress(uint16(word))
		if err != nil {
			return err
		}
	}

	return cpu.Execute(word, addr)
}

// Package elfx ingests the ELF images this emulator boots: it extracts the
// entry point, the register width, the loadable sections and the `.tohost`
// address riscv-tests use to signal completion.
package elfx

import (
	"bytes"
	"debug/elf"
	"fmt"
	"math"
)

// Segment is one loadable blob and its target virtual address.
type Segment struct {
	Addr uint64
	Data []byte
}

// Program is the parsed setup payload handed to the emulator.
type Program struct {
	Entry    uint64
	Xlen     int // 32 or 64, from the ELF class
	Segments []Segment

	// TohostAddr is the `.tohost` address, or 0 when the image is not a
	// riscv-tests binary.
	TohostAddr uint64
}

// Load parses an ELF image.
func Load(data []byte) (*Program, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("unsupported ELF machine %d (want RISC-V)", f.Machine)
	}

	prog := &Program{Entry: f.Entry}
	switch f.Class {
	case elf.ELFCLASS32:
		prog.Xlen = 32
	case elf.ELFCLASS64:
		prog.Xlen = 64
	default:
		return nil, fmt.Errorf("unsupported ELF class %d", f.Class)
	}

	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_PROGBITS || sec.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		if sec.Addr == 0 || sec.Size == 0 {
			continue
		}
		if sec.Size > uint64(math.MaxInt) {
			return nil, fmt.Errorf("ELF section %s size %#x exceeds host limits", sec.Name, sec.Size)
		}
		content, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("read ELF section %s: %w", sec.Name, err)
		}
		prog.Segments = append(prog.Segments, Segment{Addr: sec.Addr, Data: content})

		if sec.Name == ".tohost" {
			prog.TohostAddr = sec.Addr
		}
	}

	if prog.TohostAddr == 0 {
		// Some images carry tohost as a symbol without a dedicated section.
		if syms, err := f.Symbols(); err == nil {
			for _, sym := range syms {
				if sym.Name == "tohost" {
					prog.TohostAddr = sym.Value
					break
				}
			}
		}
	}

	return prog, nil
}

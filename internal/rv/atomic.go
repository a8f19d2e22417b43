package rv

// execAMO executes the A extension. Each AMO is a load-op-store against the
// MMU; atomicity is trivial on a single hart. The LR/SC reservation is
// keyed by virtual address.
func (cpu *CPU) execAMO(insn uint32) error {
	f5 := funct7(insn) >> 2

	switch funct3(insn) {
	case 0b010:
		return cpu.execAMO32(insn, f5)
	case 0b011:
		return cpu.execAMO64(insn, f5)
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
}

func (cpu *CPU) execAMO32(insn uint32, f5 uint32) error {
	addr := uint64(cpu.ReadReg(rs1(insn)))
	src := uint32(cpu.ReadReg(rs2(insn)))
	rdReg := rd(insn)

	switch f5 {
	case 0b00010: // LR.W
		val, err := cpu.MMU.LoadWord(addr)
		if err != nil {
			return err
		}
		cpu.WriteReg(rdReg, int64(int32(val)))
		cpu.Reservation = addr
		cpu.ReservationValid = true
		return nil

	case 0b00011: // SC.W
		if !cpu.ReservationValid || cpu.Reservation != addr {
			cpu.WriteReg(rdReg, 1)
			return nil
		}
		if err := cpu.MMU.StoreWord(addr, src); err != nil {
			return err
		}
		cpu.WriteReg(rdReg, 0)
		cpu.ReservationValid = false
		return nil
	}

	old, err := cpu.MMU.LoadWord(addr)
	if err != nil {
		return err
	}

	var newVal uint32
	switch f5 {
	case 0b00001: // AMOSWAP.W
		newVal = src
	case 0b00000: // AMOADD.W
		newVal = old + src
	case 0b00100: // AMOXOR.W
		newVal = old ^ src
	case 0b01100: // AMOAND.W
		newVal = old & src
	case 0b01000: // AMOOR.W
		newVal = old | src
	case 0b10000: // AMOMIN.W
		if int32(old) < int32(src) {
			newVal = old
		} else {
			newVal = src
		}
	case 0b10100: // AMOMAX.W
		if int32(old) > int32(src) {
			newVal = old
		} else {
			newVal = src
		}
	case 0b11000: // AMOMINU.W
		if old < src {
			newVal = old
		} else {
			newVal = src
		}
	case 0b11100: // AMOMAXU.W
		if old > src {
			newVal = old
		} else {
			newVal = src
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	if err := cpu.MMU.StoreWord(addr, newVal); err != nil {
		return err
	}
	cpu.WriteReg(rdReg, int64(int32(old)))
	return nil
}

func (cpu *CPU) execAMO64(insn uint32, f5 uint32) error {
	addr := uint64(cpu.ReadReg(rs1(insn)))
	src := uint64(cpu.ReadReg(rs2(insn)))
	rdReg := rd(insn)

	switch f5 {
	case 0b00010: // LR.D
		val, err := cpu.MMU.LoadDouble(addr)
		if err != nil {
			return err
		}
		cpu.WriteReg(rdReg, int64(val))
		cpu.Reservation = addr
		cpu.ReservationValid = true
		return nil

	case 0b00011: // SC.D
		if !cpu.ReservationValid || cpu.Reservation != addr {
			cpu.WriteReg(rdReg, 1)
			return nil
		}
		if err := cpu.MMU.StoreDouble(addr, src); err != nil {
			return err
		}
		cpu.WriteReg(rdReg, 0)
		cpu.ReservationValid = false
		return nil
	}

	old, err := cpu.MMU.LoadDouble(addr)
	if err != nil {
		return err
	}

	var newVal uint64
	switch f5 {
	case 0b00001: // AMOSWAP.D
		newVal = src
	case 0b00000: // AMOADD.D
		newVal = old + src
	case 0b00100: // AMOXOR.D
		newVal = old ^ src
	case 0b01100: // AMOAND.D
		newVal = old & src
	case 0b01000: // AMOOR.D
		newVal = old | src
	case 0b10000: // AMOMIN.D
		if int64(old) < int64(src) {
			newVal = old
		} else {
			newVal = src
		}
	case 0b10100: // AMOMAX.D
		if int64(old) > int64(src) {
			newVal = old
		} else {
			newVal = src
		}
	case 0b11000: // AMOMINU.D
		if old < src {
			newVal = old
		} else {
			newVal = src
		}
	case 0b11100: // AMOMAXU.D
		if old > src {
			newVal = old
		} else {
			newVal = src
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	if err := cpu.MMU.StoreDouble(addr, newVal); err != nil {
		return err
	}
	cpu.WriteReg(rdReg, int64(old))
	return nil
}

package rv

import "math"

// Rounding modes and exception flags are accepted but not modelled; fcsr
// reads back what was written.

// NaN-boxing helpers: single precision values live in the low 32 bits of
// the 64-bit register with the upper half all ones.
func f32ToU64(f float32) uint64 {
	return 0xffffffff00000000 | uint64(math.Float32bits(f))
}

func u64ToF32(val uint64) float32 {
	if val>>32 != 0xffffffff {
		return float32(math.NaN())
	}
	return math.Float32frombits(uint32(val))
}

func f64ToU64(f float64) uint64 {
	return math.Float64bits(f)
}

func u64ToF64(val uint64) float64 {
	return math.Float64frombits(val)
}

func (cpu *CPU) execLoadFP(insn uint32) error {
	addr := uint64(cpu.ReadReg(rs1(insn)) + immI(insn))
	rdReg := rd(insn)

	switch funct3(insn) {
	case 0b010: // FLW
		val, err := cpu.MMU.LoadWord(addr)
		if err != nil {
			return err
		}
		cpu.F[rdReg] = 0xffffffff00000000 | uint64(val)
	case 0b011: // FLD
		val, err := cpu.MMU.LoadDouble(addr)
		if err != nil {
			return err
		}
		cpu.F[rdReg] = val
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	return nil
}

func (cpu *CPU) execStoreFP(insn uint32) error {
	addr := uint64(cpu.ReadReg(rs1(insn)) + immS(insn))
	rs2Reg := rs2(insn)

	switch funct3(insn) {
	case 0b010: // FSW
		return cpu.MMU.StoreWord(addr, uint32(cpu.F[rs2Reg]))
	case 0b011: // FSD
		return cpu.MMU.StoreDouble(addr, cpu.F[rs2Reg])
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
}

func (cpu *CPU) execOpFP(insn uint32) error {
	f7 := funct7(insn)
	f3 := funct3(insn)
	rdReg := rd(insn)
	rs1Reg := rs1(insn)
	rs2Reg := rs2(insn)
	isDouble := f7&1 == 1

	switch f7 >> 2 {
	case 0b00000: // FADD
		if isDouble {
			cpu.F[rdReg] = f64ToU64(u64ToF64(cpu.F[rs1Reg]) + u64ToF64(cpu.F[rs2Reg]))
		} else {
			cpu.F[rdReg] = f32ToU64(u64ToF32(cpu.F[rs1Reg]) + u64ToF32(cpu.F[rs2Reg]))
		}

	case 0b00001: // FSUB
		if isDouble {
			cpu.F[rdReg] = f64ToU64(u64ToF64(cpu.F[rs1Reg]) - u64ToF64(cpu.F[rs2Reg]))
		} else {
			cpu.F[rdReg] = f32ToU64(u64ToF32(cpu.F[rs1Reg]) - u64ToF32(cpu.F[rs2Reg]))
		}

	case 0b00010: // FMUL
		if isDouble {
			cpu.F[rdReg] = f64ToU64(u64ToF64(cpu.F[rs1Reg]) * u64ToF64(cpu.F[rs2Reg]))
		} else {
			cpu.F[rdReg] = f32ToU64(u64ToF32(cpu.F[rs1Reg]) * u64ToF32(cpu.F[rs2Reg]))
		}

	case 0b00011: // FDIV
		// Division by zero yields 0.0 rather than infinity. Known
		// simplification carried by the guests this was validated with.
		if isDouble {
			a := u64ToF64(cpu.F[rs1Reg])
			b := u64ToF64(cpu.F[rs2Reg])
			if b == 0 {
				cpu.F[rdReg] = f64ToU64(0)
			} else {
				cpu.F[rdReg] = f64ToU64(a / b)
			}
		} else {
			a := u64ToF32(cpu.F[rs1Reg])
			b := u64ToF32(cpu.F[rs2Reg])
			if b == 0 {
				cpu.F[rdReg] = f32ToU64(0)
			} else {
				cpu.F[rdReg] = f32ToU64(a / b)
			}
		}

	case 0b01011: // FSQRT
		if isDouble {
			cpu.F[rdReg] = f64ToU64(math.Sqrt(u64ToF64(cpu.F[rs1Reg])))
		} else {
			cpu.F[rdReg] = f32ToU64(float32(math.Sqrt(float64(u64ToF32(cpu.F[rs1Reg])))))
		}

	case 0b00100: // FSGNJ, FSGNJN, FSGNJX
		if isDouble {
			a := cpu.F[rs1Reg]
			b := cpu.F[rs2Reg]
			var sign uint64
			switch f3 {
			case 0b000: // FSGNJ.D
				sign = b & (1 << 63)
			case 0b001: // FSGNJN.D
				sign = ^b & (1 << 63)
			case 0b010: // FSGNJX.D
				sign = (a ^ b) & (1 << 63)
			default:
				return Exception(CauseIllegalInsn, uint64(insn))
			}
			cpu.F[rdReg] = a&^(1<<63) | sign
		} else {
			a := uint32(cpu.F[rs1Reg])
			b := uint32(cpu.F[rs2Reg])
			var sign uint32
			switch f3 {
			case 0b000: // FSGNJ.S
				sign = b & (1 << 31)
			case 0b001: // FSGNJN.S
				sign = ^b & (1 << 31)
			case 0b010: // FSGNJX.S
				sign = (a ^ b) & (1 << 31)
			default:
				return Exception(CauseIllegalInsn, uint64(insn))
			}
			cpu.F[rdReg] = 0xffffffff00000000 | uint64(a&^(1<<31)|sign)
		}

	case 0b00101: // FMIN, FMAX
		if isDouble {
			a := u64ToF64(cpu.F[rs1Reg])
			b := u64ToF64(cpu.F[rs2Reg])
			if f3 == 0b000 {
				cpu.F[rdReg] = f64ToU64(math.Min(a, b))
			} else {
				cpu.F[rdReg] = f64ToU64(math.Max(a, b))
			}
		} else {
			a := u64ToF32(cpu.F[rs1Reg])
			b := u64ToF32(cpu.F[rs2Reg])
			if f3 == 0b000 {
				cpu.F[rdReg] = f32ToU64(float32(math.Min(float64(a), float64(b))))
			} else {
				cpu.F[rdReg] = f32ToU64(float32(math.Max(float64(a), float64(b))))
			}
		}

	case 0b10100: // FEQ, FLT, FLE
		var a, b float64
		if isDouble {
			a = u64ToF64(cpu.F[rs1Reg])
			b = u64ToF64(cpu.F[rs2Reg])
		} else {
			a = float64(u64ToF32(cpu.F[rs1Reg]))
			b = float64(u64ToF32(cpu.F[rs2Reg]))
		}
		var result int64
		switch f3 {
		case 0b010: // FEQ
			if a == b {
				result = 1
			}
		case 0b001: // FLT
			if a < b {
				result = 1
			}
		case 0b000: // FLE
			if a <= b {
				result = 1
			}
		default:
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		cpu.WriteReg(rdReg, result)

	case 0b11000: // FCVT.W/WU/L/LU.S/D
		var a float64
		if isDouble {
			a = u64ToF64(cpu.F[rs1Reg])
		} else {
			a = float64(u64ToF32(cpu.F[rs1Reg]))
		}
		var result int64
		switch rs2Reg {
		case 0b00000: // FCVT.W
			result = int64(int32(a))
		case 0b00001: // FCVT.WU
			result = int64(int32(uint32(a)))
		case 0b00010: // FCVT.L
			result = int64(a)
		case 0b00011: // FCVT.LU
			result = int64(uint64(a))
		default:
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		cpu.WriteReg(rdReg, cpu.signExtend(result))

	case 0b11010: // FCVT.S/D.W/WU/L/LU
		src := cpu.ReadReg(rs1Reg)
		var a float64
		switch rs2Reg {
		case 0b00000: // from W
			a = float64(int32(src))
		case 0b00001: // from WU
			a = float64(uint32(src))
		case 0b00010: // from L
			a = float64(src)
		case 0b00011: // from LU
			a = float64(uint64(src))
		default:
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		if isDouble {
			cpu.F[rdReg] = f64ToU64(a)
		} else {
			cpu.F[rdReg] = f32ToU64(float32(a))
		}

	case 0b11100: // FMV.X.W/D, FCLASS
		switch f3 {
		case 0b000:
			if isDouble {
				cpu.WriteReg(rdReg, int64(cpu.F[rs1Reg]))
			} else {
				cpu.WriteReg(rdReg, int64(int32(cpu.F[rs1Reg])))
			}
		case 0b001: // FCLASS
			var result int64
			if isDouble {
				result = classifyF64(cpu.F[rs1Reg])
			} else {
				result = classifyF32(uint32(cpu.F[rs1Reg]))
			}
			cpu.WriteReg(rdReg, result)
		default:
			return Exception(CauseIllegalInsn, uint64(insn))
		}

	case 0b11110: // FMV.W/D.X
		if isDouble {
			cpu.F[rdReg] = uint64(cpu.ReadReg(rs1Reg))
		} else {
			cpu.F[rdReg] = 0xffffffff00000000 | uint64(uint32(cpu.ReadReg(rs1Reg)))
		}

	case 0b01000: // FCVT.S.D / FCVT.D.S
		if isDouble {
			// FCVT.D.S: exact widening through the binary32 pattern.
			cpu.F[rdReg] = f64ToU64(float64(u64ToF32(cpu.F[rs1Reg])))
		} else {
			// FCVT.S.D
			cpu.F[rdReg] = f32ToU64(float32(u64ToF64(cpu.F[rs1Reg])))
		}

	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	return nil
}

func (cpu *CPU) execFMA(insn uint32) error {
	rdReg := rd(insn)
	a1 := cpu.F[rs1(insn)]
	a2 := cpu.F[rs2(insn)]
	a3 := cpu.F[rs3(insn)]
	op := opcode(insn)

	if (insn>>25)&1 == 1 {
		a := u64ToF64(a1)
		b := u64ToF64(a2)
		c := u64ToF64(a3)
		var result float64
		switch op {
		case opMadd:
			result = a*b + c
		case opMsub:
			result = a*b - c
		case opNmsub:
			result = -(a * b) + c
		case opNmadd:
			result = -(a * b) - c
		}
		cpu.F[rdReg] = f64ToU64(result)
	} else {
		a := u64ToF32(a1)
		b := u64ToF32(a2)
		c := u64ToF32(a3)
		var result float32
		switch op {
		case opMadd:
			result = a*b + c
		case opMsub:
			result = a*b - c
		case opNmsub:
			result = -(a * b) + c
		case opNmadd:
			result = -(a * b) - c
		}
		cpu.F[rdReg] = f32ToU64(result)
	}
	return nil
}

// classifyF32 computes the FCLASS.S result mask.
func classifyF32(bits uint32) int64 {
	sign := bits >> 31
	exp := (bits >> 23) & 0xff
	frac := bits & 0x7fffff

	switch {
	case exp == 0xff && frac != 0:
		if frac&(1<<22) != 0 {
			return 1 << 9 // quiet NaN
		}
		return 1 << 8 // signaling NaN
	case exp == 0xff && sign != 0:
		return 1 << 0 // -inf
	case exp == 0xff:
		return 1 << 7 // +inf
	case exp == 0 && frac == 0:
		if sign != 0 {
			return 1 << 3 // -0
		}
		return 1 << 4 // +0
	case exp == 0:
		if sign != 0 {
			return 1 << 2 // negative subnormal
		}
		return 1 << 5 // positive subnormal
	case sign != 0:
		return 1 << 1 // negative normal
	default:
		return 1 << 6 // positive normal
	}
}

// classifyF64 computes the FCLASS.D result mask.
func classifyF64(bits uint64) int64 {
	sign := bits >> 63
	exp := (bits >> 52) & 0x7ff
	frac := bits & 0xfffffffffffff

	switch {
	case exp == 0x7ff && frac != 0:
		if frac&(1<<51) != 0 {
			return 1 << 9
		}
		return 1 << 8
	case exp == 0x7ff && sign != 0:
		return 1 << 0
	case exp == 0x7ff:
		return 1 << 7
	case exp == 0 && frac == 0:
		if sign != 0 {
			return 1 << 3
		}
		return 1 << 4
	case exp == 0:
		if sign != 0 {
			return 1 << 2
		}
		return 1 << 5
	case sign != 0:
		return 1 << 1
	default:
		return 1 << 6
	}
}

package rv

// Compressed instruction field extraction.
func cFunct3(insn uint16) uint16 { return (insn >> 13) & 0x7 }

// 3-bit register fields, mapped to x8-x15.
func cRdShort(insn uint16) uint32  { return uint32((insn>>2)&0x7) + 8 }
func cRs1Short(insn uint16) uint32 { return uint32((insn>>7)&0x7) + 8 }
func cRs2Short(insn uint16) uint32 { return uint32((insn>>2)&0x7) + 8 }

// Full 5-bit register fields.
func cRd(insn uint16) uint32  { return uint32((insn >> 7) & 0x1f) }
func cRs1(insn uint16) uint32 { return uint32((insn >> 7) & 0x1f) }
func cRs2(insn uint16) uint32 { return uint32((insn >> 2) & 0x1f) }

// encodeJ assembles a J-type instruction from a sign-extended byte offset.
func encodeJ(imm uint32, rd uint32, op uint32) uint32 {
	enc := ((imm >> 20) & 0x1) << 31
	enc |= ((imm >> 1) & 0x3ff) << 21
	enc |= ((imm >> 11) & 0x1) << 20
	enc |= ((imm >> 12) & 0xff) << 12
	return enc | (rd << 7) | op
}

// encodeB assembles a B-type instruction from a sign-extended byte offset.
func encodeB(imm uint32, rs2, rs1, funct3 uint32, op uint32) uint32 {
	enc := ((imm >> 12) & 0x1) << 31
	enc |= ((imm >> 5) & 0x3f) << 25
	enc |= ((imm >> 1) & 0xf) << 8
	enc |= ((imm >> 11) & 0x1) << 7
	return enc | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | op
}

// encodeS assembles an S-type instruction from an unsigned offset.
func encodeS(imm uint32, rs2, rs1, funct3 uint32, op uint32) uint32 {
	return ((imm>>5)&0x7f)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (imm&0x1f)<<7 | op
}

// encodeI assembles an I-type instruction.
func encodeI(imm uint32, rs1, funct3, rd uint32, op uint32) uint32 {
	return imm<<20 | rs1<<15 | funct3<<12 | rd<<7 | op
}

// Uncompress expands a 16-bit encoding into its canonical 32-bit
// equivalent. The expansion is pure: no state is touched, which keeps
// decoding testable on its own. Reserved encodings raise IllegalInstruction
// with the halfword as tval.
func (cpu *CPU) Uncompress(insn uint16) (uint32, error) {
	switch insn & 0x3 {
	case 0b00:
		return cpu.expandQ0(insn)
	case 0b01:
		return cpu.expandQ1(insn)
	case 0b10:
		return cpu.expandQ2(insn)
	}
	// Low bits 11 are a full-width instruction; the caller never sends one.
	return 0, Exception(CauseIllegalInsn, uint64(insn))
}

func (cpu *CPU) expandQ0(insn uint16) (uint32, error) {
	switch cFunct3(insn) {
	case 0b000: // C.ADDI4SPN
		// nzuimm[5:4|9:6|2|3] = insn[12:11|10:7|6|5]
		imm := ((uint32(insn) >> 6) & 0x1) << 2
		imm |= ((uint32(insn) >> 5) & 0x1) << 3
		imm |= ((uint32(insn) >> 11) & 0x3) << 4
		imm |= ((uint32(insn) >> 7) & 0xf) << 6
		if imm == 0 {
			return 0, Exception(CauseIllegalInsn, uint64(insn))
		}
		// addi rd', x2, nzuimm
		return encodeI(imm, 2, 0b000, cRdShort(insn), opOpImm), nil

	case 0b001: // C.FLD
		// uimm[5:3|7:6] = insn[12:10|6:5]
		imm := ((uint32(insn) >> 10) & 0x7) << 3
		imm |= ((uint32(insn) >> 5) & 0x3) << 6
		// fld rd', offset(rs1')
		return encodeI(imm, cRs1Short(insn), 0b011, cRdShort(insn), opLoadFP), nil

	case 0b010: // C.LW
		// uimm[5:3|2|6] = insn[12:10|6|5]
		imm := ((uint32(insn) >> 6) & 0x1) << 2
		imm |= ((uint32(insn) >> 10) & 0x7) << 3
		imm |= ((uint32(insn) >> 5) & 0x1) << 6
		// lw rd', offset(rs1')
		return encodeI(imm, cRs1Short(insn), 0b010, cRdShort(insn), opLoad), nil

	case 0b011: // C.FLW (RV32) / C.LD (RV64)
		if cpu.Xlen == Xlen32 {
			// uimm[5:3|2|6] = insn[12:10|6|5]
			imm := ((uint32(insn) >> 6) & 0x1) << 2
			imm |= ((uint32(insn) >> 10) & 0x7) << 3
			imm |= ((uint32(insn) >> 5) & 0x1) << 6
			// flw rd', offset(rs1')
			return encodeI(imm, cRs1Short(insn), 0b010, cRdShort(insn), opLoadFP), nil
		}
		// uimm[5:3|7:6] = insn[12:10|6:5]
		imm := ((uint32(insn) >> 10) & 0x7) << 3
		imm |= ((uint32(insn) >> 5) & 0x3) << 6
		// ld rd', offset(rs1')
		return encodeI(imm, cRs1Short(insn), 0b011, cRdShort(insn), opLoad), nil

	case 0b101: // C.FSD
		// uimm[5:3|7:6] = insn[12:10|6:5]
		imm := ((uint32(insn) >> 10) & 0x7) << 3
		imm |= ((uint32(insn) >> 5) & 0x3) << 6
		// fsd rs2', offset(rs1')
		return encodeS(imm, cRs2Short(insn), cRs1Short(insn), 0b011, opStoreFP), nil

	case 0b110: // C.SW
		// uimm[5:3|2|6] = insn[12:10|6|5]
		imm := ((uint32(insn) >> 6) & 0x1) << 2
		imm |= ((uint32(insn) >> 10) & 0x7) << 3
		imm |= ((uint32(insn) >> 5) & 0x1) << 6
		// sw rs2', offset(rs1')
		return encodeS(imm, cRs2Short(insn), cRs1Short(insn), 0b010, opStore), nil

	case 0b111: // C.FSW (RV32) / C.SD (RV64)
		if cpu.Xlen == Xlen32 {
			imm := ((uint32(insn) >> 6) & 0x1) << 2
			imm |= ((uint32(insn) >> 10) & 0x7) << 3
			imm |= ((uint32(insn) >> 5) & 0x1) << 6
			// fsw rs2', offset(rs1')
			return encodeS(imm, cRs2Short(insn), cRs1Short(insn), 0b010, opStoreFP), nil
		}
		imm := ((uint32(insn) >> 10) & 0x7) << 3
		imm |= ((uint32(insn) >> 5) & 0x3) << 6
		// sd rs2', offset(rs1')
		return encodeS(imm, cRs2Short(insn), cRs1Short(insn), 0b011, opStore), nil
	}
	return 0, Exception(CauseIllegalInsn, uint64(insn))
}

// cImm6 extracts the common sign-extended 6-bit immediate imm[5|4:0] =
// insn[12|6:2].
func cImm6(insn uint16) uint32 {
	imm := uint32(insn>>2) & 0x1f
	if (insn>>12)&1 != 0 {
		imm |= 0xffffffe0
	}
	return imm
}

// cJumpOffset extracts the C.J/C.JAL offset
// imm[11|4|9:8|10|6|7|3:1|5] = insn[12|11|10:9|8|7|6|5:3|2].
func cJumpOffset(insn uint16) uint32 {
	imm := ((uint32(insn) >> 2) & 0x1) << 5
	imm |= ((uint32(insn) >> 3) & 0x7) << 1
	imm |= ((uint32(insn) >> 6) & 0x1) << 7
	imm |= ((uint32(insn) >> 7) & 0x1) << 6
	imm |= ((uint32(insn) >> 8) & 0x1) << 10
	imm |= ((uint32(insn) >> 9) & 0x3) << 8
	imm |= ((uint32(insn) >> 11) & 0x1) << 4
	if (insn>>12)&1 != 0 {
		imm |= 0xfffff800
	}
	return imm
}

// cBranchOffset extracts the C.BEQZ/C.BNEZ offset
// imm[8|4:3|7:6|2:1|5] = insn[12|11:10|6:5|4:3|2].
func cBranchOffset(insn uint16) uint32 {
	imm := ((uint32(insn) >> 2) & 0x1) << 5
	imm |= ((uint32(insn) >> 3) & 0x3) << 1
	imm |= ((uint32(insn) >> 5) & 0x3) << 6
	imm |= ((uint32(insn) >> 10) & 0x3) << 3
	if (insn>>12)&1 != 0 {
		imm |= 0xffffff00
	}
	return imm
}

func (cpu *CPU) expandQ1(insn uint16) (uint32, error) {
	switch cFunct3(insn) {
	case 0b000: // C.NOP / C.ADDI
		rd := cRd(insn)
		if rd == 0 {
			// addi x0, x0, 0
			return opOpImm, nil
		}
		// addi rd, rd, imm
		return encodeI(cImm6(insn)&0xfff, rd, 0b000, rd, opOpImm), nil

	case 0b001: // C.JAL (RV32) / C.ADDIW (RV64)
		if cpu.Xlen == Xlen32 {
			// jal x1, offset
			return encodeJ(cJumpOffset(insn), 1, opJal), nil
		}
		rd := cRd(insn)
		if rd == 0 {
			return 0, Exception(CauseIllegalInsn, uint64(insn))
		}
		// addiw rd, rd, imm
		return encodeI(cImm6(insn)&0xfff, rd, 0b000, rd, opOpImm32), nil

	case 0b010: // C.LI
		// addi rd, x0, imm
		return encodeI(cImm6(insn)&0xfff, 0, 0b000, cRd(insn), opOpImm), nil

	case 0b011: // C.ADDI16SP / C.LUI
		rd := cRd(insn)
		if rd == 2 {
			// nzimm[9|4|6|8:7|5] = insn[12|6|5|4:3|2]
			imm := ((uint32(insn) >> 2) & 0x1) << 5
			imm |= ((uint32(insn) >> 3) & 0x3) << 7
			imm |= ((uint32(insn) >> 5) & 0x1) << 6
			imm |= ((uint32(insn) >> 6) & 0x1) << 4
			if (insn>>12)&1 != 0 {
				imm |= 0xfffffc00
			}
			if imm == 0 {
				return 0, Exception(CauseIllegalInsn, uint64(insn))
			}
			// addi x2, x2, nzimm
			return encodeI(imm&0xfff, 2, 0b000, 2, opOpImm), nil
		}
		if rd == 0 {
			return 0, Exception(CauseIllegalInsn, uint64(insn))
		}
		// nzimm[17|16:12] = insn[12|6:2]
		imm := (uint32(insn>>2) & 0x1f) << 12
		if (insn>>12)&1 != 0 {
			imm |= 0xfffe0000
		}
		if imm == 0 {
			return 0, Exception(CauseIllegalInsn, uint64(insn))
		}
		// lui rd, nzimm[17:12]
		return (imm & 0xfffff000) | (rd << 7) | opLui, nil

	case 0b100: // C.SRLI, C.SRAI, C.ANDI, C.SUB, C.XOR, C.OR, C.AND, C.SUBW, C.ADDW
		rd := cRs1Short(insn)
		switch (insn >> 10) & 0x3 {
		case 0b00: // C.SRLI
			shamt := uint32(insn>>2)&0x1f | ((uint32(insn)>>12)&0x1)<<5
			// srli rd', rd', shamt
			return encodeI(shamt, rd, 0b101, rd, opOpImm), nil
		case 0b01: // C.SRAI
			shamt := uint32(insn>>2)&0x1f | ((uint32(insn)>>12)&0x1)<<5
			// srai rd', rd', shamt
			return encodeI(0x400|shamt, rd, 0b101, rd, opOpImm), nil
		case 0b10: // C.ANDI
			// andi rd', rd', imm
			return encodeI(cImm6(insn)&0xfff, rd, 0b111, rd, opOpImm), nil
		default:
			rs2 := cRs2Short(insn)
			if (insn>>12)&1 == 0 {
				switch (insn >> 5) & 0x3 {
				case 0b00: // C.SUB
					return 0x40000000 | rs2<<20 | rd<<15 | rd<<7 | opOp, nil
				case 0b01: // C.XOR
					return rs2<<20 | rd<<15 | 0b100<<12 | rd<<7 | opOp, nil
				case 0b10: // C.OR
					return rs2<<20 | rd<<15 | 0b110<<12 | rd<<7 | opOp, nil
				default: // C.AND
					return rs2<<20 | rd<<15 | 0b111<<12 | rd<<7 | opOp, nil
				}
			}
			if cpu.Xlen == Xlen32 {
				return 0, Exception(CauseIllegalInsn, uint64(insn))
			}
			switch (insn >> 5) & 0x3 {
			case 0b00: // C.SUBW
				return 0x40000000 | rs2<<20 | rd<<15 | rd<<7 | opOp32, nil
			case 0b01: // C.ADDW
				return rs2<<20 | rd<<15 | rd<<7 | opOp32, nil
			}
			return 0, Exception(CauseIllegalInsn, uint64(insn))
		}

	case 0b101: // C.J
		// jal x0, offset
		return encodeJ(cJumpOffset(insn), 0, opJal), nil

	case 0b110: // C.BEQZ
		// beq rs1', x0, offset
		return encodeB(cBranchOffset(insn), 0, cRs1Short(insn), 0b000, opBranch), nil

	case 0b111: // C.BNEZ
		// bne rs1', x0, offset
		return encodeB(cBranchOffset(insn), 0, cRs1Short(insn), 0b001, opBranch), nil
	}
	return 0, Exception(CauseIllegalInsn, uint64(insn))
}

func (cpu *CPU) expandQ2(insn uint16) (uint32, error) {
	switch cFunct3(insn) {
	case 0b000: // C.SLLI
		rd := cRd(insn)
		if rd == 0 {
			return 0, Exception(CauseIllegalInsn, uint64(insn))
		}
		shamt := uint32(insn>>2)&0x1f | ((uint32(insn)>>12)&0x1)<<5
		// slli rd, rd, shamt
		return encodeI(shamt, rd, 0b001, rd, opOpImm), nil

	case 0b001: // C.FLDSP
		// uimm[5|4:3|8:6] = insn[12|6:5|4:2]
		imm := ((uint32(insn) >> 2) & 0x7) << 6
		imm |= ((uint32(insn) >> 5) & 0x3) << 3
		imm |= ((uint32(insn) >> 12) & 0x1) << 5
		// fld rd, offset(x2)
		return encodeI(imm, 2, 0b011, cRd(insn), opLoadFP), nil

	case 0b010: // C.LWSP
		rd := cRd(insn)
		if rd == 0 {
			return 0, Exception(CauseIllegalInsn, uint64(insn))
		}
		// uimm[5|4:2|7:6] = insn[12|6:4|3:2]
		imm := ((uint32(insn) >> 2) & 0x3) << 6
		imm |= ((uint32(insn) >> 4) & 0x7) << 2
		imm |= ((uint32(insn) >> 12) & 0x1) << 5
		// lw rd, offset(x2)
		return encodeI(imm, 2, 0b010, rd, opLoad), nil

	case 0b011: // C.FLWSP (RV32) / C.LDSP (RV64)
		rd := cRd(insn)
		if cpu.Xlen == Xlen32 {
			imm := ((uint32(insn) >> 2) & 0x3) << 6
			imm |= ((uint32(insn) >> 4) & 0x7) << 2
			imm |= ((uint32(insn) >> 12) & 0x1) << 5
			// flw rd, offset(x2)
			return encodeI(imm, 2, 0b010, rd, opLoadFP), nil
		}
		if rd == 0 {
			return 0, Exception(CauseIllegalInsn, uint64(insn))
		}
		// uimm[5|4:3|8:6] = insn[12|6:5|4:2]
		imm := ((uint32(insn) >> 2) & 0x7) << 6
		imm |= ((uint32(insn) >> 5) & 0x3) << 3
		imm |= ((uint32(insn) >> 12) & 0x1) << 5
		// ld rd, offset(x2)
		return encodeI(imm, 2, 0b011, rd, opLoad), nil

	case 0b100: // C.JR, C.MV, C.EBREAK, C.JALR, C.ADD
		rs1 := cRs1(insn)
		rs2 := cRs2(insn)
		if (insn>>12)&1 == 0 {
			if rs2 == 0 {
				if rs1 == 0 {
					return 0, Exception(CauseIllegalInsn, uint64(insn))
				}
				// jalr x0, rs1, 0
				return encodeI(0, rs1, 0b000, 0, opJalr), nil
			}
			// add rd, x0, rs2
			return rs2<<20 | rs1<<7 | opOp, nil
		}
		if rs2 == 0 {
			if rs1 == 0 {
				// ebreak
				return 0x00100073, nil
			}
			// jalr x1, rs1, 0
			return encodeI(0, rs1, 0b000, 1, opJalr), nil
		}
		// add rd, rd, rs2
		return rs2<<20 | rs1<<15 | rs1<<7 | opOp, nil

	case 0b101: // C.FSDSP
		// uimm[5:3|8:6] = insn[12:10|9:7]
		imm := ((uint32(insn) >> 7) & 0x7) << 6
		imm |= ((uint32(insn) >> 10) & 0x7) << 3
		// fsd rs2, offset(x2)
		return encodeS(imm, cRs2(insn), 2, 0b011, opStoreFP), nil

	case 0b110: // C.SWSP
		// uimm[5:2|7:6] = insn[12:9|8:7]
		imm := ((uint32(insn) >> 7) & 0x3) << 6
		imm |= ((uint32(insn) >> 9) & 0xf) << 2
		// sw rs2, offset(x2)
		return encodeS(imm, cRs2(insn), 2, 0b010, opStore), nil

	case 0b111: // C.FSWSP (RV32) / C.SDSP (RV64)
		if cpu.Xlen == Xlen32 {
			imm := ((uint32(insn) >> 7) & 0x3) << 6
			imm |= ((uint32(insn) >> 9) & 0xf) << 2
			// fsw rs2, offset(x2)
			return encodeS(imm, cRs2(insn), 2, 0b010, opStoreFP), nil
		}
		// uimm[5:3|8:6] = insn[12:10|9:7]
		imm := ((uint32(insn) >> 7) & 0x7) << 6
		imm |= ((uint32(insn) >> 10) & 0x7) << 3
		// sd rs2, offset(x2)
		return encodeS(imm, cRs2(insn), 2, 0b011, opStore), nil
	}
	return 0, Exception(CauseIllegalInsn, uint64(insn))
}

package elfx

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildImage assembles a minimal ELF32 with one code section and,
// optionally, a .tohost section.
func buildImage(t *testing.T, withTohost bool) []byte {
	t.Helper()

	le := binary.LittleEndian
	text := []byte{0x6f, 0x00, 0x00, 0x00} // j .

	shstrtab := []byte("\x00.text\x00.tohost\x00.shstrtab\x00")
	shnum := uint16(3)
	if withTohost {
		shnum = 4
	}

	const ehsize = 52
	textOff := uint32(ehsize)
	tohostOff := textOff + uint32(len(text))
	strOff := tohostOff
	if withTohost {
		strOff += 8
	}
	shoff := strOff + uint32(len(shstrtab))

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	binary.Write(&buf, le, uint16(2))
	binary.Write(&buf, le, uint16(243))
	binary.Write(&buf, le, uint32(1))
	binary.Write(&buf, le, uint32(0x80000000)) // entry
	binary.Write(&buf, le, uint32(0))
	binary.Write(&buf, le, shoff)
	binary.Write(&buf, le, uint32(0))
	binary.Write(&buf, le, uint16(ehsize))
	binary.Write(&buf, le, uint16(0))
	binary.Write(&buf, le, uint16(0))
	binary.Write(&buf, le, uint16(40))
	binary.Write(&buf, le, shnum)
	binary.Write(&buf, le, shnum-1)

	buf.Write(text)
	if withTohost {
		buf.Write(make([]byte, 8))
	}
	buf.Write(shstrtab)

	writeSection := func(name, typ, flags, addr, off, size uint32) {
		for _, v := range []uint32{name, typ, flags, addr, off, size, 0, 0, 4, 0} {
			binary.Write(&buf, le, v)
		}
	}
	writeSection(0, 0, 0, 0, 0, 0)
	writeSection(1, 1, 0x6, 0x80000000, textOff, uint32(len(text)))
	if withTohost {
		writeSection(7, 1, 0x3, 0x80001000, tohostOff, 8)
	}
	writeSection(15, 3, 0, 0, strOff, uint32(len(shstrtab)))

	return buf.Bytes()
}

func TestLoad(t *testing.T) {
	prog, err := Load(buildImage(t, true))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if prog.Entry != 0x80000000 {
		t.Errorf("entry = %#x, want 0x80000000", prog.Entry)
	}
	if prog.Xlen != 32 {
		t.Errorf("xlen = %d, want 32", prog.Xlen)
	}
	if prog.TohostAddr != 0x80001000 {
		t.Errorf("tohost = %#x, want 0x80001000", prog.TohostAddr)
	}

	var foundText bool
	for _, seg := range prog.Segments {
		if seg.Addr == 0x80000000 {
			foundText = true
			if !bytes.Equal(seg.Data, []byte{0x6f, 0x00, 0x00, 0x00}) {
				t.Errorf("text segment = %x", seg.Data)
			}
		}
	}
	if !foundText {
		t.Error("text segment not loaded")
	}
}

func TestLoadWithoutTohost(t *testing.T) {
	prog, err := Load(buildImage(t, false))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if prog.TohostAddr != 0 {
		t.Errorf("tohost = %#x, want none", prog.TohostAddr)
	}
}

func TestLoadRejectsJunk(t *testing.T) {
	if _, err := Load([]byte("not an elf")); err == nil {
		t.Error("junk accepted as ELF")
	}
}

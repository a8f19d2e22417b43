package rv

import (
	"bytes"
	"encoding/binary"
)

// Flattened device tree tokens.
const (
	fdtMagic       = 0xd00dfeed
	fdtBeginNode   = 0x00000001
	fdtEndNode     = 0x00000002
	fdtProp        = 0x00000003
	fdtEnd         = 0x00000009
	fdtVersion     = 17
	fdtLastCompVer = 16
)

// dtbBuilder assembles a flattened device tree blob.
type dtbBuilder struct {
	structure bytes.Buffer
	strings   bytes.Buffer
	stringMap map[string]uint32
}

func newDTBBuilder() *dtbBuilder {
	return &dtbBuilder{stringMap: make(map[string]uint32)}
}

func (b *dtbBuilder) putU32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.structure.Write(buf[:])
}

func (b *dtbBuilder) pad() {
	for b.structure.Len()%4 != 0 {
		b.structure.WriteByte(0)
	}
}

func (b *dtbBuilder) nameOffset(s string) uint32 {
	if off, ok := b.stringMap[s]; ok {
		return off
	}
	off := uint32(b.strings.Len())
	b.strings.WriteString(s)
	b.strings.WriteByte(0)
	b.stringMap[s] = off
	return off
}

func (b *dtbBuilder) beginNode(name string) {
	b.putU32(fdtBeginNode)
	b.structure.WriteString(name)
	b.structure.WriteByte(0)
	b.pad()
}

func (b *dtbBuilder) endNode() {
	b.putU32(fdtEndNode)
}

func (b *dtbBuilder) propString(name, value string) {
	b.putU32(fdtProp)
	b.putU32(uint32(len(value) + 1))
	b.putU32(b.nameOffset(name))
	b.structure.WriteString(value)
	b.structure.WriteByte(0)
	b.pad()
}

func (b *dtbBuilder) propU32(name string, value uint32) {
	b.putU32(fdtProp)
	b.putU32(4)
	b.putU32(b.nameOffset(name))
	b.putU32(value)
}

func (b *dtbBuilder) propU32s(name string, values ...uint32) {
	b.putU32(fdtProp)
	b.putU32(uint32(len(values) * 4))
	b.putU32(b.nameOffset(name))
	for _, v := range values {
		b.putU32(v)
	}
}

func (b *dtbBuilder) propEmpty(name string) {
	b.putU32(fdtProp)
	b.putU32(0)
	b.putU32(b.nameOffset(name))
}

func (b *dtbBuilder) build() []byte {
	b.putU32(fdtEnd)
	for b.strings.Len()%4 != 0 {
		b.strings.WriteByte(0)
	}

	const headerSize = 40
	const memRsvmapSize = 16 // one empty entry
	structOff := uint32(headerSize + memRsvmapSize)
	structSize := uint32(b.structure.Len())
	stringsOff := structOff + structSize
	stringsSize := uint32(b.strings.Len())
	totalSize := stringsOff + stringsSize

	result := make([]byte, totalSize)
	header := []uint32{
		fdtMagic, totalSize, structOff, stringsOff, headerSize,
		fdtVersion, fdtLastCompVer,
		0, // boot cpu
		stringsSize, structSize,
	}
	for i, v := range header {
		binary.BigEndian.PutUint32(result[i*4:], v)
	}
	copy(result[structOff:], b.structure.Bytes())
	copy(result[stringsOff:], b.strings.Bytes())
	return result
}

// GenerateDTB builds a device tree describing this machine's fixed
// platform, for guests booted without an external blob. The result fits
// the read-only DTB window.
func GenerateDTB(memorySize uint64, cmdline string, xlen Xlen) []byte {
	isa := "rv64imafdc"
	mmu := "riscv,sv39"
	if xlen == Xlen32 {
		isa = "rv32imafdc"
		mmu = "riscv,sv32"
	}

	b := newDTBBuilder()

	b.beginNode("")
	b.propU32("#address-cells", 2)
	b.propU32("#size-cells", 2)
	b.propString("compatible", "riscv-virtio")
	b.propString("model", "riscv-virtio,qemu")

	b.beginNode("chosen")
	b.propString("bootargs", cmdline)
	b.propString("stdout-path", "/soc/serial@10000000")
	b.endNode()

	b.beginNode("cpus")
	b.propU32("#address-cells", 1)
	b.propU32("#size-cells", 0)
	b.propU32("timebase-frequency", 10000000)
	b.beginNode("cpu@0")
	b.propString("device_type", "cpu")
	b.propU32("reg", 0)
	b.propString("status", "okay")
	b.propString("compatible", "riscv")
	b.propString("riscv,isa", isa)
	b.propString("mmu-type", mmu)
	b.beginNode("interrupt-controller")
	b.propU32("#interrupt-cells", 1)
	b.propEmpty("interrupt-controller")
	b.propString("compatible", "riscv,cpu-intc")
	b.propU32("phandle", 1)
	b.endNode()
	b.endNode()
	b.endNode()

	b.beginNode("memory@80000000")
	b.propString("device_type", "memory")
	b.propU32s("reg",
		uint32(DRAMBase>>32), uint32(DRAMBase),
		uint32(memorySize>>32), uint32(memorySize))
	b.endNode()

	b.beginNode("soc")
	b.propU32("#address-cells", 2)
	b.propU32("#size-cells", 2)
	b.propString("compatible", "simple-bus")
	b.propEmpty("ranges")

	b.beginNode("clint@2000000")
	b.propString("compatible", "riscv,clint0")
	b.propU32s("reg", 0, uint32(clintBase), 0, 0x10000)
	b.propU32s("interrupts-extended", 1, 3, 1, 7)
	b.endNode()

	b.beginNode("plic@c000000")
	b.propString("compatible", "sifive,plic-1.0.0")
	b.propU32("#interrupt-cells", 1)
	b.propEmpty("interrupt-controller")
	b.propU32s("reg", 0, uint32(plicBase), 0, 0x4000000)
	b.propU32s("interrupts-extended", 1, 9, 1, 11)
	b.propU32("riscv,ndev", 127)
	b.propU32("phandle", 2)
	b.endNode()

	b.beginNode("serial@10000000")
	b.propString("compatible", "ns16550a")
	b.propU32s("reg", 0, uint32(uartBase), 0, 0x100)
	b.propU32("clock-frequency", 3686400)
	b.propU32("interrupts", uint32(IRQUART))
	b.propU32("interrupt-parent", 2)
	b.endNode()

	b.beginNode("virtio_mmio@10001000")
	b.propString("compatible", "virtio,mmio")
	b.propU32s("reg", 0, uint32(diskBase), 0, 0x1000)
	b.propU32("interrupts", uint32(IRQVirtio))
	b.propU32("interrupt-parent", 2)
	b.endNode()

	b.endNode() // soc
	b.endNode() // root

	return b.build()
}

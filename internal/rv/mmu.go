package rv

// AddressingMode is the active virtual memory scheme, derived from satp.
type AddressingMode uint8

const (
	AddrModeNone AddressingMode = iota
	AddrModeSV32
	AddrModeSV39
)

type accessType uint8

const (
	accessRead accessType = iota
	accessWrite
	accessExecute
)

// PTE bits
const (
	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteG = 1 << 5
	pteA = 1 << 6
	pteD = 1 << 7
)

const pageSize uint64 = 4096

// Memory-mapped device windows. Accesses below DRAMBase outside these
// ranges read as zero and drop writes.
const (
	dtbBase   uint64 = 0x1020
	dtbEnd    uint64 = 0x1ea2
	clintBase uint64 = 0x02000000
	clintEnd  uint64 = 0x0200ffff
	plicBase  uint64 = 0x0c000000
	plicEnd   uint64 = 0x0fffffff
	uartBase  uint64 = 0x10000000
	uartEnd   uint64 = 0x100000ff
	diskBase  uint64 = 0x10001000
	diskEnd   uint64 = 0x10001fff
)

// MMU routes every hart memory access: virtual address translation when
// paging is on, then dispatch to the owning device or DRAM. It owns the
// device set, which it advances once per tick.
type MMU struct {
	xlen Xlen
	priv uint8

	mode AddressingMode
	ppn  uint64

	mem   Memory
	dtb   []byte
	clint *CLINT
	plic  *PLIC
	uart  *UART
	disk  *VirtioBlk

	// Optional translation cache keyed by virtual page, one map per access
	// type. Flushed on satp writes, privilege changes and SFENCE.VMA, which
	// keeps privilege and satp out of the key.
	cacheEnabled bool
	fetchCache   map[uint64]uint64
	readCache    map[uint64]uint64
	writeCache   map[uint64]uint64
}

// NewMMU creates the MMU and its device set. Memory has to be sized with
// InitMemory before the hart runs.
func NewMMU(xlen Xlen, terminal Terminal) *MMU {
	return &MMU{
		xlen:  xlen,
		priv:  PrivMachine,
		mode:  AddrModeNone,
		clint: NewCLINT(),
		plic:  NewPLIC(),
		uart:  NewUART(terminal),
		disk:  NewVirtioBlk(),
	}
}

func (mmu *MMU) SetXlen(xlen Xlen)  { mmu.xlen = xlen }
func (mmu *MMU) CLINT() *CLINT      { return mmu.clint }
func (mmu *MMU) UART() *UART        { return mmu.uart }
func (mmu *MMU) PLIC() *PLIC        { return mmu.plic }
func (mmu *MMU) Disk() *VirtioBlk   { return mmu.disk }
func (mmu *MMU) Memory() *Memory    { return &mmu.mem }

// InitMemory sizes DRAM.
func (mmu *MMU) InitMemory(capacity uint64) {
	mmu.mem.Init(capacity)
}

// InitDisk attaches the filesystem image to the virtio block device.
func (mmu *MMU) InitDisk(data []byte) {
	mmu.disk.Init(data)
}

// InitDTB places the device tree blob in its read-only window.
func (mmu *MMU) InitDTB(data []byte) {
	mmu.dtb = append([]byte(nil), data...)
}

// SetPrivilege mirrors the hart privilege for translation decisions.
func (mmu *MMU) SetPrivilege(priv uint8) {
	mmu.priv = priv
	mmu.flushCache()
}

// SetAddressingMode installs a new paging mode and root page number.
func (mmu *MMU) SetAddressingMode(mode AddressingMode, ppn uint64) {
	mmu.mode = mode
	mmu.ppn = ppn
	mmu.flushCache()
}

// EnableAddressCache turns the translation cache on or off.
func (mmu *MMU) EnableAddressCache(enable bool) {
	mmu.cacheEnabled = enable
	mmu.flushCache()
}

// SfenceVMA invalidates cached translations.
func (mmu *MMU) SfenceVMA() {
	mmu.flushCache()
}

func (mmu *MMU) flushCache() {
	if !mmu.cacheEnabled {
		mmu.fetchCache = nil
		mmu.readCache = nil
		mmu.writeCache = nil
		return
	}
	mmu.fetchCache = make(map[uint64]uint64)
	mmu.readCache = make(map[uint64]uint64)
	mmu.writeCache = make(map[uint64]uint64)
}

// Tick advances the device set by one unit. Order matters: the PLIC samples
// the device interrupt lines after they have moved.
func (mmu *MMU) Tick(mip *uint64) error {
	mmu.clint.Tick(mip)
	if err := mmu.disk.Tick(&mmu.mem); err != nil {
		return err
	}
	mmu.uart.Tick()
	mmu.plic.Tick(mmu.disk.IsInterrupting(), mmu.uart.IsInterrupting(), mip)
	return nil
}

// effective narrows an address to the XLEN width.
func (mmu *MMU) effective(addr uint64) uint64 {
	if mmu.xlen == Xlen32 {
		return addr & 0xffffffff
	}
	return addr
}

// trapCause maps an access type to its page fault cause.
func trapCause(access accessType) uint64 {
	switch access {
	case accessWrite:
		return CauseStorePageFault
	case accessExecute:
		return CauseInsnPageFault
	default:
		return CauseLoadPageFault
	}
}

// FetchWord reads a 32-bit instruction candidate, splitting the access per
// byte when it straddles a page boundary.
func (mmu *MMU) FetchWord(vaddr uint64) (uint32, error) {
	data, err := mmu.accessBytes(vaddr, 4, accessExecute)
	return uint32(data), err
}

// accessBytes reads `width` little-endian bytes at a virtual address.
// Single-page accesses translate once and loop in the physical range;
// crossing accesses translate every byte.
func (mmu *MMU) accessBytes(vaddr uint64, width uint64, access accessType) (uint64, error) {
	var data uint64
	if vaddr&0xfff <= pageSize-width {
		paddr, ok := mmu.translate(mmu.effective(vaddr), access)
		if !ok {
			return 0, Exception(trapCause(access), vaddr)
		}
		for i := uint64(0); i < width; i++ {
			data |= uint64(mmu.LoadRaw(paddr+i)) << (8 * i)
		}
		return data, nil
	}
	for i := uint64(0); i < width; i++ {
		paddr, ok := mmu.translate(mmu.effective(vaddr+i), access)
		if !ok {
			// The fault reports the address of the original access, not
			// of the byte that missed.
			return 0, Exception(trapCause(access), vaddr)
		}
		data |= uint64(mmu.LoadRaw(paddr)) << (8 * i)
	}
	return data, nil
}

// storeBytes writes `width` little-endian bytes at a virtual address with
// the same page-splitting policy as accessBytes.
func (mmu *MMU) storeBytes(vaddr uint64, val uint64, width uint64) error {
	if vaddr&0xfff <= pageSize-width {
		paddr, ok := mmu.translate(mmu.effective(vaddr), accessWrite)
		if !ok {
			return Exception(CauseStorePageFault, vaddr)
		}
		for i := uint64(0); i < width; i++ {
			mmu.StoreRaw(paddr+i, byte(val>>(8*i)))
		}
		return nil
	}
	for i := uint64(0); i < width; i++ {
		paddr, ok := mmu.translate(mmu.effective(vaddr+i), accessWrite)
		if !ok {
			return Exception(CauseStorePageFault, vaddr)
		}
		mmu.StoreRaw(paddr, byte(val>>(8*i)))
	}
	return nil
}

// LoadByte loads an 8-bit value from a virtual address.
func (mmu *MMU) LoadByte(vaddr uint64) (uint8, error) {
	data, err := mmu.accessBytes(vaddr, 1, accessRead)
	return uint8(data), err
}

// LoadHalf loads a 16-bit value from a virtual address.
func (mmu *MMU) LoadHalf(vaddr uint64) (uint16, error) {
	data, err := mmu.accessBytes(vaddr, 2, accessRead)
	return uint16(data), err
}

// LoadWord loads a 32-bit value from a virtual address.
func (mmu *MMU) LoadWord(vaddr uint64) (uint32, error) {
	data, err := mmu.accessBytes(vaddr, 4, accessRead)
	return uint32(data), err
}

// LoadDouble loads a 64-bit value from a virtual address.
func (mmu *MMU) LoadDouble(vaddr uint64) (uint64, error) {
	return mmu.accessBytes(vaddr, 8, accessRead)
}

// StoreByte stores an 8-bit value to a virtual address.
func (mmu *MMU) StoreByte(vaddr uint64, val uint8) error {
	return mmu.storeBytes(vaddr, uint64(val), 1)
}

// StoreHalf stores a 16-bit value to a virtual address.
func (mmu *MMU) StoreHalf(vaddr uint64, val uint16) error {
	return mmu.storeBytes(vaddr, uint64(val), 2)
}

// StoreWord stores a 32-bit value to a virtual address.
func (mmu *MMU) StoreWord(vaddr uint64, val uint32) error {
	return mmu.storeBytes(vaddr, uint64(val), 4)
}

// StoreDouble stores a 64-bit value to a virtual address.
func (mmu *MMU) StoreDouble(vaddr uint64, val uint64) error {
	return mmu.storeBytes(vaddr, val, 8)
}

// LoadRaw reads one byte of physical address space, dispatching on the
// memory map.
func (mmu *MMU) LoadRaw(addr uint64) byte {
	eaddr := mmu.effective(addr)
	switch {
	case eaddr >= dtbBase && eaddr <= dtbEnd:
		if int(eaddr-dtbBase) < len(mmu.dtb) {
			return mmu.dtb[eaddr-dtbBase]
		}
		return 0
	case eaddr >= clintBase && eaddr <= clintEnd:
		return mmu.clint.Load(eaddr - clintBase)
	case eaddr >= plicBase && eaddr <= plicEnd:
		return mmu.plic.Load(eaddr - plicBase)
	case eaddr >= uartBase && eaddr <= uartEnd:
		return mmu.uart.Load(eaddr - uartBase)
	case eaddr >= diskBase && eaddr <= diskEnd:
		return mmu.disk.Load(eaddr - diskBase)
	default:
		return mmu.mem.ReadByte(eaddr)
	}
}

// StoreRaw writes one byte of physical address space. The DTB window is
// read-only; stores to it fall through to nowhere.
func (mmu *MMU) StoreRaw(addr uint64, val byte) {
	eaddr := mmu.effective(addr)
	switch {
	case eaddr >= dtbBase && eaddr <= dtbEnd:
	case eaddr >= clintBase && eaddr <= clintEnd:
		mmu.clint.Store(eaddr-clintBase, val)
	case eaddr >= plicBase && eaddr <= plicEnd:
		mmu.plic.Store(eaddr-plicBase, val)
	case eaddr >= uartBase && eaddr <= uartEnd:
		mmu.uart.Store(eaddr-uartBase, val)
	case eaddr >= diskBase && eaddr <= diskEnd:
		mmu.disk.Store(eaddr-diskBase, val)
	default:
		mmu.mem.WriteByte(eaddr, val)
	}
}

// LoadWordRaw reads a little-endian 32-bit value from physical space.
func (mmu *MMU) LoadWordRaw(addr uint64) uint32 {
	var data uint32
	for i := uint64(0); i < 4; i++ {
		data |= uint32(mmu.LoadRaw(addr+i)) << (8 * i)
	}
	return data
}

// LoadDoublewordRaw reads a little-endian 64-bit value from physical space.
func (mmu *MMU) LoadDoublewordRaw(addr uint64) uint64 {
	var data uint64
	for i := uint64(0); i < 8; i++ {
		data |= uint64(mmu.LoadRaw(addr+i)) << (8 * i)
	}
	return data
}

// StoreWordRaw writes a little-endian 32-bit value to physical space.
func (mmu *MMU) StoreWordRaw(addr uint64, val uint32) {
	for i := uint64(0); i < 4; i++ {
		mmu.StoreRaw(addr+i, byte(val>>(8*i)))
	}
}

// StoreDoublewordRaw writes a little-endian 64-bit value to physical space.
func (mmu *MMU) StoreDoublewordRaw(addr uint64, val uint64) {
	for i := uint64(0); i < 8; i++ {
		mmu.StoreRaw(addr+i, byte(val>>(8*i)))
	}
}

// translate maps a virtual address to a physical one. Machine mode and bare
// mode are identity. Returns false on a page fault; the caller attaches the
// cause and the original virtual address.
func (mmu *MMU) translate(addr uint64, access accessType) (uint64, bool) {
	if mmu.mode == AddrModeNone || mmu.priv == PrivMachine {
		return addr, true
	}

	if mmu.cacheEnabled {
		if paddr, ok := mmu.cacheLookup(addr, access); ok {
			return paddr, true
		}
	}

	var paddr uint64
	var ok bool
	switch mmu.mode {
	case AddrModeSV32:
		vpns := [3]uint64{(addr >> 12) & 0x3ff, (addr >> 22) & 0x3ff}
		paddr, ok = mmu.traversePage(addr, 1, mmu.ppn, &vpns, access)
	default: // AddrModeSV39
		vpns := [3]uint64{(addr >> 12) & 0x1ff, (addr >> 21) & 0x1ff, (addr >> 30) & 0x1ff}
		paddr, ok = mmu.traversePage(addr, 2, mmu.ppn, &vpns, access)
	}
	if ok && mmu.cacheEnabled {
		mmu.cacheInsert(addr, access, paddr)
	}
	return paddr, ok
}

func (mmu *MMU) cacheLookup(addr uint64, access accessType) (uint64, bool) {
	var cache map[uint64]uint64
	switch access {
	case accessWrite:
		cache = mmu.writeCache
	case accessExecute:
		cache = mmu.fetchCache
	default:
		cache = mmu.readCache
	}
	ppage, ok := cache[addr>>12]
	if !ok {
		return 0, false
	}
	return ppage | (addr & 0xfff), true
}

func (mmu *MMU) cacheInsert(addr uint64, access accessType, paddr uint64) {
	switch access {
	case accessWrite:
		mmu.writeCache[addr>>12] = paddr &^ 0xfff
	case accessExecute:
		mmu.fetchCache[addr>>12] = paddr &^ 0xfff
	default:
		mmu.readCache[addr>>12] = paddr &^ 0xfff
	}
}

// traversePage walks one level of the page table, recursing into
// intermediate nodes. Leaf handling updates the A/D bits in place and
// rejects misaligned superpages.
func (mmu *MMU) traversePage(vaddr uint64, level int, parentPPN uint64, vpns *[3]uint64, access accessType) (uint64, bool) {
	var pteSize uint64 = 8
	if mmu.mode == AddrModeSV32 {
		pteSize = 4
	}
	pteAddr := parentPPN*pageSize + vpns[level]*pteSize

	var pte uint64
	if mmu.mode == AddrModeSV32 {
		pte = uint64(mmu.LoadWordRaw(pteAddr))
	} else {
		pte = mmu.LoadDoublewordRaw(pteAddr)
	}

	var ppn uint64
	var ppns [3]uint64
	if mmu.mode == AddrModeSV32 {
		ppn = (pte >> 10) & 0x3fffff
		ppns = [3]uint64{(pte >> 10) & 0x3ff, (pte >> 20) & 0xfff, 0}
	} else {
		ppn = (pte >> 10) & 0xfffffffffff
		ppns = [3]uint64{(pte >> 10) & 0x1ff, (pte >> 19) & 0x1ff, (pte >> 28) & 0x3ffffff}
	}

	v := pte & pteV
	r := pte & pteR
	w := pte & pteW
	x := pte & pteX
	if v == 0 || (r == 0 && w != 0) {
		return 0, false
	}

	if r == 0 && x == 0 {
		// Intermediate node.
		if level == 0 {
			return 0, false
		}
		return mmu.traversePage(vaddr, level-1, ppn, vpns, access)
	}

	// Leaf. Update A, and D on writes, before the permission check so the
	// walk matches hardware that sets them eagerly.
	a := pte & pteA
	d := pte & pteD
	if a == 0 || (access == accessWrite && d == 0) {
		newPTE := pte | pteA
		if access == accessWrite {
			newPTE |= pteD
		}
		if mmu.mode == AddrModeSV32 {
			mmu.StoreWordRaw(pteAddr, uint32(newPTE))
		} else {
			mmu.StoreDoublewordRaw(pteAddr, newPTE)
		}
	}

	switch access {
	case accessExecute:
		if x == 0 {
			return 0, false
		}
	case accessRead:
		if r == 0 {
			return 0, false
		}
	case accessWrite:
		if w == 0 {
			return 0, false
		}
	}

	offset := vaddr & 0xfff
	if mmu.mode == AddrModeSV32 {
		switch level {
		case 1:
			if ppns[0] != 0 {
				return 0, false
			}
			return (ppns[1] << 22) | (vpns[0] << 12) | offset, true
		default:
			return (ppn << 12) | offset, true
		}
	}
	switch level {
	case 2:
		if ppns[1] != 0 || ppns[0] != 0 {
			return 0, false
		}
		return (ppns[2] << 30) | (vpns[1] << 21) | (vpns[0] << 12) | offset, true
	case 1:
		if ppns[0] != 0 {
			return 0, false
		}
		return (ppns[2] << 30) | (ppns[1] << 21) | (vpns[0] << 12) | offset, true
	default:
		return (ppn << 12) | offset, true
	}
}

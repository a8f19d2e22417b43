package rv

import "testing"

// plicEnable sets the enable bit for an IRQ through the byte interface.
func plicEnable(p *PLIC, irq uint32) {
	off := uint64(plicEnableBase + irq/8)
	p.Store(off, p.Load(off)|1<<(irq%8))
}

func plicSetPriority(p *PLIC, irq uint32, prio byte) {
	p.Store(uint64(4*irq), prio)
}

func TestPLICClaim(t *testing.T) {
	p := NewPLIC()
	var mip uint64

	plicEnable(p, IRQUART)
	plicSetPriority(p, IRQUART, 1)

	p.Tick(false, true, &mip)
	if mip&MipSEIP == 0 {
		t.Fatal("SEIP not asserted")
	}
	if got := p.Load(plicClaimBase); got != byte(IRQUART) {
		t.Errorf("claim = %d, want %d", got, IRQUART)
	}

	// Completing the claim clears it.
	p.Store(plicClaimBase, byte(IRQUART))
	if got := p.Load(plicClaimBase); got != 0 {
		t.Errorf("claim after complete = %d, want 0", got)
	}
}

func TestPLICThreshold(t *testing.T) {
	p := NewPLIC()
	var mip uint64

	plicEnable(p, IRQUART)
	plicSetPriority(p, IRQUART, 1)
	p.Store(plicThresholdBase, 1) // threshold == priority: masked

	p.Tick(false, true, &mip)
	if mip&MipSEIP != 0 {
		t.Error("SEIP asserted at or below the threshold")
	}
	if got := p.Load(plicClaimBase); got != 0 {
		t.Errorf("claim = %d, want none", got)
	}
}

func TestPLICPriorityOrder(t *testing.T) {
	p := NewPLIC()
	var mip uint64

	plicEnable(p, IRQVirtio)
	plicEnable(p, IRQUART)
	plicSetPriority(p, IRQVirtio, 2)
	plicSetPriority(p, IRQUART, 5)

	p.Tick(true, true, &mip)
	if got := p.Load(plicClaimBase); got != byte(IRQUART) {
		t.Errorf("claim = %d, want the higher priority %d", got, IRQUART)
	}
}

func TestPLICDisabledInput(t *testing.T) {
	p := NewPLIC()
	var mip uint64

	plicSetPriority(p, IRQVirtio, 7)
	// Not enabled: no interrupt regardless of priority.
	p.Tick(true, false, &mip)
	if mip&MipSEIP != 0 {
		t.Error("SEIP asserted for a disabled source")
	}
}

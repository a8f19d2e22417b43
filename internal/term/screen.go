package term

import (
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/vt"
)

// Screen is a headless VT terminal: guest output is interpreted by a VT
// emulator so embedders and tests can inspect the rendered grid instead of
// a raw escape-sequence stream. Input typed into the emulator (and input
// injected with PushInput) is exposed through GetInput.
type Screen struct {
	emu *vt.SafeEmulator

	cols, rows int

	mu sync.Mutex
	in []byte

	// VT-generated replies are drained by a goroutine so GetInput never
	// blocks on the emulator.
	vtIn    chan byte
	closeCh chan struct{}
}

// NewScreen creates a VT screen of the given size.
func NewScreen(cols, rows int) *Screen {
	emu := vt.NewSafeEmulator(cols, rows)

	s := &Screen{
		emu:     emu,
		cols:    cols,
		rows:    rows,
		vtIn:    make(chan byte, 1024),
		closeCh: make(chan struct{}),
	}
	s.disableVTQueries()
	go s.readVT()
	return s
}

// disableVTQueries stops the emulator from answering device-status and
// device-attribute queries. Minimal guest shells echo those reply bytes
// back, which shows up as a stream of stuck input.
func (s *Screen) disableVTQueries() {
	s.emu.RegisterCsiHandler('n', func(params ansi.Params) bool {
		return true
	})
	s.emu.RegisterCsiHandler(ansi.Command('?', 0, 'n'), func(params ansi.Params) bool {
		return true
	})
	s.emu.RegisterCsiHandler('c', func(params ansi.Params) bool {
		return true
	})
	s.emu.RegisterCsiHandler(ansi.Command('>', 0, 'c'), func(params ansi.Params) bool {
		return true
	})
}

func (s *Screen) readVT() {
	var buf [256]byte
	for {
		n, err := s.emu.Read(buf[:])
		for _, b := range buf[:n] {
			select {
			case s.vtIn <- b:
			case <-s.closeCh:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// PutByte feeds one byte of guest output into the VT emulator.
func (s *Screen) PutByte(b byte) {
	s.emu.Write([]byte{b})
}

// GetInput returns the next input byte for the guest: injected input first,
// then anything the VT emulator generated. Returns 0 when nothing is
// pending.
func (s *Screen) GetInput() byte {
	s.mu.Lock()
	if len(s.in) > 0 {
		b := s.in[0]
		s.in = s.in[1:]
		s.mu.Unlock()
		return b
	}
	s.mu.Unlock()

	select {
	case b := <-s.vtIn:
		return b
	default:
		return 0
	}
}

// PushInput queues raw bytes for the guest.
func (s *Screen) PushInput(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.in = append(s.in, data...)
}

// Text snapshots the rendered grid as lines of plain text, trailing
// whitespace trimmed.
func (s *Screen) Text() string {
	var sb strings.Builder
	for y := 0; y < s.rows; y++ {
		var line strings.Builder
		for x := 0; x < s.cols; {
			cell := s.emu.CellAt(x, y)
			content := " "
			w := 1
			if cell != nil {
				content = cell.Content
				if cell.Width > 1 {
					w = cell.Width
				}
			}
			line.WriteString(content)
			x += w
		}
		sb.WriteString(strings.TrimRight(line.String(), " "))
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Close stops the VT reader goroutine.
func (s *Screen) Close() {
	close(s.closeCh)
}

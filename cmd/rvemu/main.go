// Command rvemu boots a RISC-V ELF image in the emulator: riscv-tests
// binaries run to their pass/fail verdict, everything else (xv6, Linux)
// runs with the console on stdio.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/softcores/rvemu"
	termadapter "github.com/softcores/rvemu/internal/term"
)

// MachineSpec is the YAML form of the CLI options, for hosts that keep
// their guest definitions in files.
type MachineSpec struct {
	Program    string `yaml:"program"`
	Xlen       int    `yaml:"xlen,omitempty"`
	Filesystem string `yaml:"filesystem,omitempty"`
	DTB        string `yaml:"dtb,omitempty"`
	Raw        bool   `yaml:"raw,omitempty"`
	PageCache  bool   `yaml:"page_cache,omitempty"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rvemu: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	xlen := flag.Int("x", 0, "force XLEN (32 or 64); default is the ELF class")
	fsPath := flag.String("f", "", "filesystem image for the virtio block device")
	dtbPath := flag.String("d", "", "device tree blob")
	raw := flag.Bool("r", false, "put the host terminal into raw mode")
	pageCache := flag.Bool("p", false, "enable the MMU translation cache")
	specPath := flag.String("c", "", "machine spec YAML file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `rvemu - RISC-V system emulator

USAGE:
  rvemu [flags] <elf>
  rvemu -c machine.yaml

FLAGS:
  -x 32|64   Force XLEN; the default comes from the ELF class
  -f PATH    Filesystem image exposed as a virtio block device
  -d PATH    Device tree blob placed at the Linux DTB window
  -r         Raw host terminal (interactive guests)
  -p         Enable the MMU translation cache
  -c PATH    Load all options from a machine spec YAML file

Images with a .tohost symbol run in test mode: the run ends when the test
reports its verdict, and a failing verdict is a non-zero exit.
`)
	}
	flag.Parse()

	spec := MachineSpec{
		Xlen:       *xlen,
		Filesystem: *fsPath,
		DTB:        *dtbPath,
		Raw:        *raw,
		PageCache:  *pageCache,
	}
	if *specPath != "" {
		data, err := os.ReadFile(*specPath)
		if err != nil {
			return fmt.Errorf("read machine spec: %w", err)
		}
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return fmt.Errorf("parse machine spec: %w", err)
		}
	}
	if flag.NArg() > 0 {
		spec.Program = flag.Arg(0)
	}
	if spec.Program == "" {
		flag.Usage()
		os.Exit(1)
	}

	program, err := readImage(spec.Program, "loading program")
	if err != nil {
		return err
	}

	terminal := termadapter.NewStdio(spec.Raw)
	emu := rvemu.New(terminal)

	if err := emu.SetupProgram(program); err != nil {
		return fmt.Errorf("setup %s: %w", spec.Program, err)
	}
	if spec.Xlen != 0 {
		if err := emu.ForceXlen(spec.Xlen); err != nil {
			return err
		}
	}
	if spec.Filesystem != "" {
		fs, err := readImage(spec.Filesystem, "loading filesystem")
		if err != nil {
			return err
		}
		emu.SetupFilesystem(fs)
	}
	if spec.DTB != "" {
		dtb, err := os.ReadFile(spec.DTB)
		if err != nil {
			return fmt.Errorf("read dtb: %w", err)
		}
		emu.SetupDTB(dtb)
	} else if !emu.IsTest() {
		emu.SetupDefaultDTB("console=ttyS0")
	}
	emu.EnablePageCache(spec.PageCache)

	if spec.Raw {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			slog.Warn("stdin is not a terminal, ignoring -r")
		} else {
			oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
			if err != nil {
				return fmt.Errorf("raw terminal: %w", err)
			}
			defer term.Restore(int(os.Stdin.Fd()), oldState)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if emu.IsTest() {
		endcode, err := emu.RunTest(ctx)
		if err != nil {
			return err
		}
		if endcode != 1 {
			return fmt.Errorf("test failed with end code %d", endcode)
		}
		fmt.Println("test passed")
		return nil
	}

	err = emu.RunProgram(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readImage reads a file with a byte progress bar; disk and program images
// can run to hundreds of megabytes.
func readImage(path string, title string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	bar := progressbar.DefaultBytes(fi.Size(), title)
	if _, err := io.Copy(io.MultiWriter(&buf, bar), f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

// Command asmlayout assembles YAML program descriptions into flat
// binaries, standalone ELF executables or listings.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/tinyrange/asmlayout/internal/asm"
	"github.com/tinyrange/asmlayout/internal/diag"
	"github.com/tinyrange/asmlayout/internal/objfmt"
	"github.com/tinyrange/asmlayout/internal/objfmt/bin"
	"github.com/tinyrange/asmlayout/internal/objfmt/elf"
	"github.com/tinyrange/asmlayout/internal/objfmt/listing"
	"github.com/tinyrange/asmlayout/internal/program"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "asmlayout: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	format    string
	output    string
	maxPasses int
	base      uint64
	dump      bool
}

var errAssembly = errors.New("assembly failed")

func run() error {
	format := flag.String("format", "", "Output format (bin, elf, listing). Overrides the description")
	output := flag.String("o", "", "Output file. Only valid with a single input")
	dbg := flag.Bool("debug", false, "Enable debug logging")
	dump := flag.Bool("dump", false, "Write the layout state as YAML next to each output")
	maxPasses := flag.Int("max-passes", 0, "Optimizer pass limit per section (0 picks one from the span count)")
	base := flag.Uint64("base", 0, "Base address. Overrides the description")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <program.yaml>...\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Lay out and emit assembler program descriptions.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *dbg {
		slog.SetDefault(slog.New(slog.NewTextHandler(
			os.Stderr,
			&slog.HandlerOptions{Level: slog.LevelDebug},
		)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(
			os.Stderr,
			&slog.HandlerOptions{Level: slog.LevelInfo},
		)))
	}

	inputs := flag.Args()
	if len(inputs) == 0 {
		flag.Usage()
		return fmt.Errorf("no input files")
	}
	if *output != "" && len(inputs) > 1 {
		return fmt.Errorf("-o needs exactly one input, got %d", len(inputs))
	}

	opts := options{
		format:    *format,
		output:    *output,
		maxPasses: *maxPasses,
		base:      *base,
		dump:      *dump,
	}
	printer := diag.New(os.Stderr)

	var bar *progressbar.ProgressBar
	if len(inputs) > 1 && !*dbg {
		bar = progressbar.Default(int64(len(inputs)), "assembling")
		defer bar.Close()
	}

	failed := 0
	for _, path := range inputs {
		if err := assemble(path, opts, printer); err != nil {
			if !errors.Is(err, errAssembly) {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			}
			failed++
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if err := printer.Summary(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(inputs))
	}
	return nil
}

func assemble(path string, opts options, printer *diag.Printer) error {
	file, err := program.Load(path)
	if err != nil {
		return err
	}
	if opts.format != "" {
		file.Format = opts.format
	}
	if opts.base != 0 {
		file.BaseAddress = opts.base
	}
	maxPasses := file.MaxPasses
	if opts.maxPasses != 0 {
		maxPasses = opts.maxPasses
	}

	registry, err := newRegistry(file)
	if err != nil {
		return err
	}
	format, err := registry.Lookup(file.Format)
	if err != nil {
		return err
	}

	log := slog.Default().With("file", path)
	obj := asm.NewObject(asm.Options{MaxPasses: maxPasses, Logger: log})
	if err := file.Build(obj); err != nil {
		return err
	}

	out := outputPath(path, file, opts)
	var buf bytes.Buffer
	layoutErr := obj.FinalizeLayout()
	var writeErr error
	if layoutErr == nil {
		writeErr = format.Write(obj, &buf)
	}

	if opts.dump {
		if err := writeDump(obj, out+".layout.yaml"); err != nil {
			return err
		}
	}
	if err := printer.PrintAll(path, obj.Diagnostics()); err != nil {
		return err
	}
	if layoutErr != nil || obj.HasErrors() {
		return errAssembly
	}
	if writeErr != nil {
		return writeErr
	}

	mode := os.FileMode(0o644)
	if file.Format == "elf" {
		mode = 0o755
	}
	if err := os.WriteFile(out, buf.Bytes(), mode); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	log.Debug("wrote output", "path", out, "format", file.Format, "bytes", buf.Len())
	return nil
}

// newRegistry builds the formats configured from the description.
func newRegistry(file *program.File) (*objfmt.Registry, error) {
	cfg := elf.DefaultConfig()
	if file.BaseAddress != 0 {
		cfg.BaseAddress = file.BaseAddress
	}
	cfg.Entry = file.Entry
	cfg.Externs = file.ExternAddresses()

	return objfmt.NewRegistry(
		&bin.Format{Origin: file.BaseAddress},
		&elf.Format{Config: cfg},
		&listing.Format{Origin: file.BaseAddress},
	)
}

func outputPath(path string, file *program.File, opts options) string {
	if opts.output != "" {
		return opts.output
	}
	if file.Output != "" {
		if filepath.IsAbs(file.Output) {
			return file.Output
		}
		return filepath.Join(filepath.Dir(path), file.Output)
	}
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	switch file.Format {
	case "elf":
		if stem == path {
			return stem + ".elf"
		}
		return stem
	case "listing":
		return stem + ".lst"
	default:
		return stem + "." + file.Format
	}
}

func writeDump(obj *asm.Object, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create layout dump: %w", err)
	}
	defer f.Close()
	if err := obj.DumpYAML(f); err != nil {
		return err
	}
	return f.Close()
}

// Package testutil disassembles emitted code with GNU objdump so tests can
// check encodings against an independent decoder.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// ArchX86_64 is the objdump machine name for raw x86-64 code.
const ArchX86_64 = "i386:x86-64"

// Insn is one decoded instruction.
type Insn struct {
	Addr     string
	Text     string
	Mnemonic string
}

// Has reports whether the whitespace-normalized text contains substr.
func (i Insn) Has(substr string) bool {
	return strings.Contains(i.Text, substr)
}

// Disassemble decodes raw code for arch with objdump. The test is skipped
// when objdump is not installed.
func Disassemble(t *testing.T, code []byte, arch string) []Insn {
	t.Helper()
	tool, err := exec.LookPath("objdump")
	if err != nil {
		t.Skipf("objdump not found: %v", err)
	}

	path := filepath.Join(t.TempDir(), "code.bin")
	if err := os.WriteFile(path, code, 0o644); err != nil {
		t.Fatalf("write code: %v", err)
	}
	out, err := exec.Command(tool, "-D", "-b", "binary", "-m", arch, "-M", "intel", "--no-show-raw-insn", path).CombinedOutput()
	if err != nil {
		t.Fatalf("objdump failed: %v\n\n%s", err, out)
	}
	insns, err := parse(string(out))
	if err != nil {
		t.Fatalf("parse objdump output: %v", err)
	}
	return insns
}

func parse(out string) ([]Insn, error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	var insns []Insn
	for sc.Scan() {
		line := sc.Text()
		addr, text, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) == 0 || fields[0] == "file" || strings.HasPrefix(fields[0], "<") {
			continue
		}
		insns = append(insns, Insn{
			Addr:     strings.TrimSpace(addr),
			Text:     strings.Join(fields, " "),
			Mnemonic: strings.ToLower(fields[0]),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return insns, nil
}

// Expect is an instruction that must appear at the next position.
type Expect struct {
	Mnemonic string
	Contains []string
}

// Verify checks insns against want in order. Trailing instructions are
// ignored.
func Verify(t *testing.T, insns []Insn, want []Expect) {
	t.Helper()
	if len(insns) < len(want) {
		t.Fatalf("decoded %d instructions, want at least %d: %v", len(insns), len(want), insns)
	}
	for i, w := range want {
		got := insns[i]
		if w.Mnemonic != "" && got.Mnemonic != w.Mnemonic {
			t.Fatalf("instruction %d at %s = %q, want mnemonic %s", i, got.Addr, got.Text, w.Mnemonic)
		}
		for _, s := range w.Contains {
			if !got.Has(s) {
				t.Fatalf("instruction %d at %s = %q, missing %q", i, got.Addr, got.Text, s)
			}
		}
	}
}

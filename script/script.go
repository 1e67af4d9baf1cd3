// Package script generates the executable launchers declared by a wheel's
// entry points: plain interpreter scripts on posix targets, and
// self-contained .exe launchers on Windows targets.
//
// Reference: https://packaging.python.org/specifications/entry-points/
package script

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Kind selects between a console launcher and a windowed (GUI) launcher.
type Kind string

const (
	// KindConsole attaches the process to a console.
	KindConsole Kind = "console"
	// KindGUI detaches the process from any console.
	KindGUI Kind = "gui"
)

// Platform identifies the launcher target.
type Platform string

const (
	PlatformPosix    Platform = "posix"
	PlatformWinX86   Platform = "win-x86"
	PlatformWinX64   Platform = "win-x64"
	PlatformWinArm32 Platform = "win-arm32"
	PlatformWinArm64 Platform = "win-arm64"
)

// StubKey identifies one prebuilt Windows launcher stub.
type StubKey struct {
	Kind     Kind
	Platform Platform
}

// StubTable maps launcher keys to the raw bytes of the prebuilt stub
// executables. Posix targets need no stubs.
type StubTable map[StubKey][]byte

// stubNames are the canonical filenames of the prebuilt stubs, following the
// t (terminal) / w (windowed) naming of the upstream launcher project.
var stubNames = map[StubKey]string{
	{KindConsole, PlatformWinX86}:   "t32.exe",
	{KindConsole, PlatformWinX64}:   "t64.exe",
	{KindConsole, PlatformWinArm32}: "t_arm.exe",
	{KindConsole, PlatformWinArm64}: "t64-arm.exe",
	{KindGUI, PlatformWinX86}:       "w32.exe",
	{KindGUI, PlatformWinX64}:       "w64.exe",
	{KindGUI, PlatformWinArm32}:     "w_arm.exe",
	{KindGUI, PlatformWinArm64}:     "w64-arm.exe",
}

// LoadStubs reads the eight canonical stub executables from dir. Missing
// files are skipped; generating a launcher for a missing stub fails then.
func LoadStubs(dir string) (StubTable, error) {
	stubs := make(StubTable, len(stubNames))
	for key, name := range stubNames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading launcher stub %s: %w", name, err)
		}
		stubs[key] = data
	}
	return stubs, nil
}

// ErrUnsupportedLauncher is returned for a kind/platform pair outside the
// known launcher set.
var ErrUnsupportedLauncher = errors.New("unsupported launcher")

func unsupportedLauncher(key StubKey) error {
	valid := make([]string, 0, len(stubNames))
	for k := range stubNames {
		valid = append(valid, fmt.Sprintf("%s/%s", k.Kind, k.Platform))
	}
	sort.Strings(valid)
	return fmt.Errorf("%w: %s/%s (known: %s)",
		ErrUnsupportedLauncher, key.Kind, key.Platform, strings.Join(valid, ", "))
}

// codeTemplate is the body of every generated launcher. It strips the
// launcher suffix from argv[0] before handing control to the entry point.
const codeTemplate = `# -*- coding: utf-8 -*-
import re
import sys
from %s import %s
if __name__ == "__main__":
    sys.argv[0] = re.sub(r"(-script\.pyw|\.exe)?$", "", sys.argv[0])
    sys.exit(%s())
`

// Script is one entry point to generate a launcher for.
type Script struct {
	// Name is the launcher name, without extension.
	Name string
	// Module is the dotted module path exposing the entry point.
	Module string
	// Attr is the dotted attribute within Module to call.
	Attr string
	// Kind selects a console or GUI launcher.
	Kind Kind
}

func (s Script) code() string {
	importName, _, _ := strings.Cut(s.Attr, ".")
	return fmt.Sprintf(codeTemplate, s.Module, importName, s.Attr)
}

// Generate produces the launcher file for the given interpreter and target
// platform, returning its filename and contents.
//
// On posix the result is a text script under a shebang. On Windows targets
// the result is the matching prebuilt stub followed by the shebang and a zip
// archive holding the code as __main__.py; the stub locates and runs that
// trailing archive.
func (s Script) Generate(interpreter string, platform Platform, stubs StubTable) (string, []byte, error) {
	if platform == PlatformPosix {
		if s.Kind != KindConsole && s.Kind != KindGUI {
			return "", nil, unsupportedLauncher(StubKey{s.Kind, platform})
		}
		shebang := buildShebang(executableFor(interpreter, s.Kind, platform), false)
		var buf bytes.Buffer
		buf.Write(shebang)
		buf.WriteByte('\n')
		buf.WriteString(s.code())
		return s.Name, buf.Bytes(), nil
	}

	key := StubKey{Kind: s.Kind, Platform: platform}
	if _, known := stubNames[key]; !known {
		return "", nil, unsupportedLauncher(key)
	}
	stub, ok := stubs[key]
	if !ok {
		return "", nil, fmt.Errorf("no stub loaded for %s launcher on %s", s.Kind, platform)
	}

	shebang := buildShebang(executableFor(interpreter, s.Kind, platform), true)

	var buf bytes.Buffer
	buf.Write(stub)
	buf.Write(shebang)
	buf.WriteByte('\n')

	zw := zip.NewWriter(&buf)
	entry, err := zw.Create("__main__.py")
	if err != nil {
		return "", nil, fmt.Errorf("building launcher archive: %w", err)
	}
	if _, err := entry.Write([]byte(s.code())); err != nil {
		return "", nil, fmt.Errorf("building launcher archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", nil, fmt.Errorf("building launcher archive: %w", err)
	}
	return s.Name + ".exe", buf.Bytes(), nil
}

// buildShebang returns the shebang line, without the trailing newline.
//
// Launcher stubs parse the line themselves, so for them the executable is
// embedded verbatim. Kernels, by contrast, reject shebang lines longer than
// 127 bytes and split on any whitespace, so long or space-bearing
// interpreter paths fall back to a /bin/sh trampoline that both sh and the
// interpreter parse to the same effect.
func buildShebang(executable string, forLauncher bool) []byte {
	if forLauncher {
		return []byte("#!" + executable)
	}
	// +3 accounts for "#!" and the newline the caller appends.
	if !strings.Contains(executable, " ") && len(executable)+3 <= 127 {
		return []byte("#!" + executable)
	}
	quoted := shellquote.Join(executable)
	return []byte(fmt.Sprintf("#!/bin/sh\n'''exec' %s \"$0\" \"$@\"\n' '''", quoted))
}

// executableFor substitutes the windowed interpreter for GUI launchers on
// Windows targets, where running under the console interpreter would flash a
// console window.
func executableFor(interpreter string, kind Kind, platform Platform) string {
	if kind != KindGUI || platform == PlatformPosix {
		return interpreter
	}
	dir, base := filepath.Split(interpreter)
	return dir + strings.Replace(base, "python", "pythonw", 1)
}

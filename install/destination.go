package install

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pydist/wheel-installer/record"
	"github.com/pydist/wheel-installer/script"
)

// Record ties an installed file's manifest entry to the scheme it was
// written under.
type Record struct {
	Scheme Scheme
	Entry  record.Entry
}

// ErrAlreadyExists is returned when a write would clobber an existing file
// and overwriting was not requested.
var ErrAlreadyExists = errors.New("destination file already exists")

// Destination receives the files of a wheel being installed.
type Destination interface {
	// WriteFile stores stream under the scheme's directory at the given
	// slash-separated relative path, returning a manifest entry describing
	// the bytes actually written.
	WriteFile(scheme Scheme, relPath string, stream io.Reader, executable bool) (record.Entry, error)
	// WriteScript generates and stores a launcher for the named entry point
	// under the scripts scheme.
	WriteScript(name, module, attr string, kind script.Kind) (record.Entry, error)
	// Finalize writes the complete installation manifest to recordPath under
	// the given scheme. It must be called at most once, after all files.
	Finalize(scheme Scheme, recordPath string, records []Record) error
}

// SchemeDirDestination installs into one filesystem directory per scheme.
type SchemeDirDestination struct {
	// Dirs maps every scheme to its target directory. All five schemes must
	// be present.
	Dirs map[Scheme]string
	// Interpreter is the path or command the generated launchers invoke.
	Interpreter string
	// Platform selects the launcher flavor.
	Platform script.Platform
	// Stubs supplies prebuilt launcher executables for Windows platforms.
	Stubs script.StubTable
	// Overwrite allows clobbering existing destination files. Without it any
	// collision fails with ErrAlreadyExists.
	Overwrite bool
	// HashAlgorithm names the digest recorded for written files. Empty means
	// sha256.
	HashAlgorithm string

	finalized bool
}

func (d *SchemeDirDestination) algorithm() string {
	if d.HashAlgorithm == "" {
		return "sha256"
	}
	return d.HashAlgorithm
}

// shebangToken marks a script whose first line must be rewritten to point at
// the destination interpreter.
const shebangToken = "#!python"

// WriteFile stores stream at Dirs[scheme]/relPath. Files bound for the
// scripts scheme get their leading "#!python" line, when present, replaced
// with a shebang naming the destination interpreter.
func (d *SchemeDirDestination) WriteFile(scheme Scheme, relPath string, stream io.Reader, executable bool) (record.Entry, error) {
	if scheme == SchemeScripts {
		rewritten, err := d.rewriteShebang(stream)
		if err != nil {
			return record.Entry{}, fmt.Errorf("rewriting shebang of %s: %w", relPath, err)
		}
		stream = rewritten
	}
	return d.writeToFS(scheme, relPath, stream, executable)
}

// rewriteShebang replaces a leading "#!python" line with a real shebang. A
// stream starting with anything else passes through untouched.
func (d *SchemeDirDestination) rewriteShebang(stream io.Reader) (io.Reader, error) {
	br := bufio.NewReader(stream)
	head, err := br.Peek(len(shebangToken))
	if err != nil || string(head) != shebangToken {
		// Too short to carry the token, or a different first line.
		return br, nil
	}
	// The whole first line goes, including any suffix after the token.
	if _, err := br.ReadString('\n'); err != nil && err != io.EOF {
		return nil, err
	}
	return io.MultiReader(strings.NewReader("#!"+d.Interpreter+"\n"), br), nil
}

// WriteScript generates the launcher for an entry point and stores it under
// the scripts scheme, always marked executable.
func (d *SchemeDirDestination) WriteScript(name, module, attr string, kind script.Kind) (record.Entry, error) {
	s := script.Script{Name: name, Module: module, Attr: attr, Kind: kind}
	filename, data, err := s.Generate(d.Interpreter, d.Platform, d.Stubs)
	if err != nil {
		return record.Entry{}, fmt.Errorf("generating launcher %s: %w", name, err)
	}
	return d.writeToFS(SchemeScripts, filename, bytes.NewReader(data), true)
}

// Finalize relocates every manifest entry onto the record's scheme and
// writes the manifest file. Entries recorded under a different scheme get a
// relative path prefix computed between the two scheme directories.
func (d *SchemeDirDestination) Finalize(scheme Scheme, recordPath string, records []Record) error {
	if d.finalized {
		return errors.New("destination already finalized")
	}
	d.finalized = true

	entries := make([]record.Entry, 0, len(records))
	for _, r := range records {
		entry := r.Entry
		if r.Scheme != scheme {
			prefix, err := filepath.Rel(d.Dirs[scheme], d.Dirs[r.Scheme])
			if err != nil {
				return fmt.Errorf("relocating %s from %s to %s: %w", entry.Path, r.Scheme, scheme, err)
			}
			entry.Path = path.Join(filepath.ToSlash(prefix), entry.Path)
		}
		entries = append(entries, entry)
	}

	var buf bytes.Buffer
	if err := record.WriteFile(&buf, entries); err != nil {
		return err
	}
	_, err := d.writeToFS(scheme, recordPath, &buf, false)
	return err
}

// writeToFS streams into Dirs[scheme]/relPath, hashing the bytes as they
// pass through, and returns the resulting manifest entry.
func (d *SchemeDirDestination) writeToFS(scheme Scheme, relPath string, stream io.Reader, executable bool) (record.Entry, error) {
	dir, ok := d.Dirs[scheme]
	if !ok {
		return record.Entry{}, fmt.Errorf("%w: no directory configured for %q", ErrUnknownScheme, scheme)
	}
	target := filepath.Join(dir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return record.Entry{}, fmt.Errorf("creating directory for %s: %w", relPath, err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if d.Overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(target, flags, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return record.Entry{}, fmt.Errorf("%w: %s", ErrAlreadyExists, target)
		}
		return record.Entry{}, fmt.Errorf("creating %s: %w", target, err)
	}

	h, err := record.NewHash(d.algorithm())
	if err != nil {
		f.Close()
		return record.Entry{}, err
	}
	size, err := io.Copy(io.MultiWriter(f, h), stream)
	if err != nil {
		f.Close()
		return record.Entry{}, fmt.Errorf("writing %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return record.Entry{}, fmt.Errorf("writing %s: %w", target, err)
	}

	if executable {
		info, err := os.Stat(target)
		if err != nil {
			return record.Entry{}, err
		}
		if err := os.Chmod(target, info.Mode()|0o755); err != nil {
			return record.Entry{}, fmt.Errorf("marking %s executable: %w", target, err)
		}
	}

	digest := record.FromHash(d.algorithm(), h)
	return record.Entry{Path: relPath, Digest: &digest, Size: &size}, nil
}

package wheel

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pydist/wheel-installer/record"
)

const (
	// metadataDirSuffix identifies the metadata directory among the
	// archive's top-level entries.
	metadataDirSuffix = ".dist-info"
	// manifestName is the content manifest inside the metadata directory.
	manifestName = "RECORD"
)

// signatureSidecars are digital-signature files for the manifest itself.
// They can only be produced after RECORD is written, so they are permitted
// to be absent from it.
var signatureSidecars = [...]string{"RECORD.jws", "RECORD.p7s"}

// ErrMetadataNameMismatch is returned when the metadata directory's
// {name}-{version} prefix does not match the archive filename.
var ErrMetadataNameMismatch = errors.New("metadata directory does not match the wheel filename")

// AmbiguousMetadataDirError reports that the archive does not contain
// exactly one top-level metadata directory.
type AmbiguousMetadataDirError struct {
	Candidates []string
}

func (e *AmbiguousMetadataDirError) Error() string {
	return fmt.Sprintf("expected exactly one top-level %s directory, found %d: %v",
		metadataDirSuffix, len(e.Candidates), e.Candidates)
}

// ValidationError aggregates every manifest consistency issue discovered in
// a single validation pass over the archive.
type ValidationError struct {
	Name   string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %d validation issue(s): %s",
		e.Name, len(e.Issues), strings.Join(e.Issues, "; "))
}

// File is a Source backed by a wheel archive in zip format.
type File struct {
	name        string
	zip         *zip.Reader
	closer      io.Closer
	parsed      Filename
	metadataDir string
}

// OpenFile opens the wheel archive at the given path. The returned File
// must be released with Close.
func OpenFile(pathname string) (*File, error) {
	rc, err := zip.OpenReader(pathname)
	if err != nil {
		return nil, fmt.Errorf("opening wheel %s: %w", pathname, err)
	}
	w, err := NewFile(&rc.Reader, filepath.Base(pathname))
	if err != nil {
		rc.Close()
		return nil, err
	}
	w.closer = rc
	return w, nil
}

// NewFile builds a File over an already-open zip reader. name must be the
// archive's filename, which carries the distribution name and version.
func NewFile(zr *zip.Reader, name string) (*File, error) {
	parsed, err := ParseFilename(name)
	if err != nil {
		return nil, err
	}
	metadataDir, err := findMetadataDir(zr, parsed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &File{
		name:        name,
		zip:         zr,
		parsed:      parsed,
		metadataDir: metadataDir,
	}, nil
}

// findMetadataDir scans top-level archive entries for exactly one metadata
// directory and checks its {name}-{version} prefix against the filename.
func findMetadataDir(zr *zip.Reader, parsed Filename) (string, error) {
	seen := make(map[string]bool)
	var candidates []string
	for _, f := range zr.File {
		idx := strings.IndexByte(f.Name, '/')
		if idx < 0 {
			continue
		}
		top := f.Name[:idx]
		if !strings.HasSuffix(top, metadataDirSuffix) || seen[top] {
			continue
		}
		seen[top] = true
		candidates = append(candidates, top)
	}
	if len(candidates) != 1 {
		return "", &AmbiguousMetadataDirError{Candidates: candidates}
	}

	// Full-name equality after normalization: a prefix match would let a
	// version-extended directory (demo-1.01, demo-1.0rc1) slip through.
	found := candidates[0]
	want := normalizeName(parsed.Distribution + "-" + parsed.Version + metadataDirSuffix)
	if normalizeName(found) != want {
		return "", fmt.Errorf("%w: %s does not match %s-%s",
			ErrMetadataNameMismatch, found, parsed.Distribution, parsed.Version)
	}
	return found, nil
}

// Close releases the underlying archive handle, if this File owns one.
func (w *File) Close() error {
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// Distribution is the distribution name parsed from the archive filename.
func (w *File) Distribution() string { return w.parsed.Distribution }

// Version is the version parsed from the archive filename.
func (w *File) Version() string { return w.parsed.Version }

// MetadataDir is the name of the archive's metadata directory.
func (w *File) MetadataDir() string { return w.metadataDir }

// MetadataFiles lists the relative names of the files under the metadata
// directory. Directory entries are excluded.
func (w *File) MetadataFiles() []string {
	prefix := w.metadataDir + "/"
	var names []string
	for _, f := range w.zip.File {
		if strings.HasSuffix(f.Name, "/") || !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		names = append(names, f.Name[len(prefix):])
	}
	return names
}

// ReadMetadata returns the UTF-8 contents of a file in the metadata directory.
func (w *File) ReadMetadata(name string) (string, error) {
	full := w.metadataDir + "/" + name
	for _, f := range w.zip.File {
		if f.Name != full {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("opening %s: %w", full, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", full, err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, full)
}

// records parses the embedded RECORD manifest.
func (w *File) records() ([]record.Entry, error) {
	contents, err := w.ReadMetadata(manifestName)
	if err != nil {
		return nil, err
	}
	return record.ParseFile(strings.NewReader(contents))
}

// recordMap indexes the manifest by path, keeping the first occurrence of
// any duplicated path. Duplicates are reported by Validate.
func (w *File) recordMap() (map[string]record.Entry, error) {
	entries, err := w.records()
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]record.Entry, len(entries))
	for _, entry := range entries {
		if _, ok := byPath[entry.Path]; !ok {
			byPath[entry.Path] = entry
		}
	}
	return byPath, nil
}

// Validate checks every non-directory archive entry against the manifest.
//
// All issues are collected before reporting, so a single run gives complete
// feedback on a malformed archive. A manifest that cannot be parsed at all
// aborts immediately, before any content check runs.
func (w *File) Validate(checkContent bool) error {
	entries, err := w.records()
	if err != nil {
		return fmt.Errorf("reading RECORD of %s: %w", w.name, err)
	}

	recordPath := w.metadataDir + "/" + manifestName
	byPath := make(map[string]record.Entry, len(entries))
	var issues []string
	for _, entry := range entries {
		if _, dup := byPath[entry.Path]; dup {
			issues = append(issues, fmt.Sprintf("%s is listed more than once in RECORD", entry.Path))
			continue
		}
		byPath[entry.Path] = entry
	}

	for _, f := range w.zip.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		entry, ok := byPath[f.Name]
		if !ok {
			if w.isSignatureSidecar(f.Name) {
				continue
			}
			issues = append(issues, fmt.Sprintf("%s is not mentioned in RECORD", f.Name))
			continue
		}
		if f.Name == recordPath {
			// RECORD cannot hash itself; its own row must stay empty.
			if entry.Digest != nil || entry.Size != nil {
				issues = append(issues, fmt.Sprintf("%s must not record its own digest or size", f.Name))
			}
			continue
		}
		if entry.Digest == nil {
			issues = append(issues, fmt.Sprintf("%s has no digest recorded", f.Name))
		}
		if entry.Size == nil {
			issues = append(issues, fmt.Sprintf("%s has no size recorded", f.Name))
		}
		if !checkContent || entry.Digest == nil || entry.Size == nil {
			continue
		}
		ok, err = w.validateContent(f, entry)
		if err != nil {
			return err
		}
		if !ok {
			issues = append(issues, fmt.Sprintf("%s does not match its recorded digest and size", f.Name))
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Name: w.name, Issues: issues}
	}
	return nil
}

func (w *File) validateContent(f *zip.File, entry record.Entry) (bool, error) {
	rc, err := f.Open()
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()
	return entry.ValidateStream(rc)
}

func (w *File) isSignatureSidecar(name string) bool {
	for _, sidecar := range signatureSidecars {
		if name == w.metadataDir+"/"+sidecar {
			return true
		}
	}
	return false
}

// Contents calls fn once per non-directory archive entry, in archive order.
// Each call re-reads the archive from the start, so the sequence is
// restartable. The reader handed to fn is closed when fn returns.
func (w *File) Contents(fn ContentFunc) error {
	// Manifest mismatches never fail here; entries without a row get a
	// placeholder so Validate stays the single source of consistency errors.
	byPath, err := w.recordMap()
	if err != nil {
		byPath = nil
	}

	for _, f := range w.zip.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		entry, ok := byPath[f.Name]
		if !ok {
			entry = record.Entry{Path: f.Name}
		}
		mode := f.Mode()
		executable := mode.IsRegular() && mode&0o111 != 0

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", f.Name, err)
		}
		err = fn(entry, rc, executable)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

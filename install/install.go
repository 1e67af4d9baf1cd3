// Package install orchestrates the installation of a wheel archive into a
// Destination: classifying every archive entry into a scheme, rewriting
// scripts, generating entry-point launchers and writing the final manifest.
package install

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/pydist/wheel-installer/record"
	"github.com/pydist/wheel-installer/script"
	"github.com/pydist/wheel-installer/wheel"
)

// The implemented wheel format version. Archives declaring a higher major
// version are rejected; a higher minor version only logs a warning.
const (
	supportedMajor = 1
	supportedMinor = 0
)

// ErrIncompatibleFormatVersion is returned for archives declaring a wheel
// format this implementation cannot install.
var ErrIncompatibleFormatVersion = errors.New("incompatible Wheel-Version")

// ErrInvalidDataSubdirectory is returned for archive entries under the .data
// directory that do not resolve to a scheme and a non-empty remainder.
var ErrInvalidDataSubdirectory = errors.New("invalid .data subdirectory")

// Installer installs wheel archives. The zero value is usable.
type Installer struct {
	// InstallerName, when set, is written to the INSTALLER metadata file to
	// identify the tool that performed the installation.
	InstallerName string
	// Requested, when set, writes the empty REQUESTED marker recording that
	// the distribution was installed on explicit user request rather than as
	// a dependency.
	Requested bool
	// ExtraMetadataFiles are additional files to place in the metadata
	// directory, keyed by relative name.
	ExtraMetadataFiles map[string][]byte
}

// Install writes every file of src into dst.
//
// Archive entries are classified first and written second, so a
// classification failure aborts before the destination is touched. Entries
// under the .data directory go to the scheme their first path component
// names; everything else goes to the root scheme selected by Root-Is-Purelib.
func (inst *Installer) Install(src wheel.Source, dst Destination) error {
	contents, err := src.ReadMetadata("WHEEL")
	if err != nil {
		return fmt.Errorf("reading WHEEL: %w", err)
	}
	meta, err := wheel.ParseMetadata(contents)
	if err != nil {
		return fmt.Errorf("parsing WHEEL: %w", err)
	}
	if err := checkVersion(meta.Get("Wheel-Version")); err != nil {
		return err
	}

	root := SchemePlatlib
	if strings.EqualFold(meta.Get("Root-Is-Purelib"), "true") {
		root = SchemePurelib
	}
	metadataDir := src.MetadataDir()
	dataDir := strings.TrimSuffix(metadataDir, ".dist-info") + ".data"
	recordPath := metadataDir + "/RECORD"

	// First pass: classify everything before writing anything, so a bad
	// .data layout leaves the destination untouched.
	err = src.Contents(func(entry record.Entry, _ io.Reader, _ bool) error {
		if entry.Path == recordPath {
			return nil
		}
		_, _, err := classify(entry.Path, dataDir, root)
		return err
	})
	if err != nil {
		return err
	}

	var records []Record
	err = src.Contents(func(entry record.Entry, contents io.Reader, executable bool) error {
		// The archive's manifest is not copied; Finalize writes a fresh
		// one covering what was actually installed.
		if entry.Path == recordPath {
			return nil
		}
		scheme, relPath, err := classify(entry.Path, dataDir, root)
		if err != nil {
			return err
		}
		written, err := dst.WriteFile(scheme, relPath, contents, executable)
		if err != nil {
			return fmt.Errorf("installing %s: %w", entry.Path, err)
		}
		records = append(records, Record{Scheme: scheme, Entry: written})
		return nil
	})
	if err != nil {
		return err
	}

	launchers, err := inst.writeLaunchers(src, dst)
	if err != nil {
		return err
	}
	records = append(records, launchers...)

	markers, err := inst.writeMetadataMarkers(dst, metadataDir, root)
	if err != nil {
		return err
	}
	records = append(records, markers...)

	records = append(records, Record{Scheme: root, Entry: record.Entry{Path: recordPath}})
	return dst.Finalize(root, recordPath, records)
}

// writeLaunchers generates one launcher per console or GUI entry point. A
// wheel without entry_points.txt has no launchers.
func (inst *Installer) writeLaunchers(src wheel.Source, dst Destination) ([]Record, error) {
	text, err := src.ReadMetadata("entry_points.txt")
	if errors.Is(err, wheel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading entry_points.txt: %w", err)
	}
	points, err := wheel.ParseEntryPoints(text)
	if err != nil {
		return nil, fmt.Errorf("parsing entry_points.txt: %w", err)
	}

	var records []Record
	for _, p := range points {
		kind := script.KindConsole
		if p.Section == wheel.SectionGUI {
			kind = script.KindGUI
		}
		entry, err := dst.WriteScript(p.Name, p.Module, p.Attr, kind)
		if err != nil {
			return nil, fmt.Errorf("installing launcher %s: %w", p.Name, err)
		}
		records = append(records, Record{Scheme: SchemeScripts, Entry: entry})
	}
	return records, nil
}

// writeMetadataMarkers adds the INSTALLER and REQUESTED markers plus any
// extra metadata files, in deterministic name order.
func (inst *Installer) writeMetadataMarkers(dst Destination, metadataDir string, root Scheme) ([]Record, error) {
	files := make(map[string][]byte, len(inst.ExtraMetadataFiles)+2)
	for name, data := range inst.ExtraMetadataFiles {
		files[name] = data
	}
	if inst.InstallerName != "" {
		files["INSTALLER"] = []byte(inst.InstallerName + "\n")
	}
	if inst.Requested {
		files["REQUESTED"] = []byte{}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var records []Record
	for _, name := range names {
		relPath := metadataDir + "/" + name
		entry, err := dst.WriteFile(root, relPath, strings.NewReader(string(files[name])), false)
		if err != nil {
			return nil, fmt.Errorf("installing %s: %w", relPath, err)
		}
		records = append(records, Record{Scheme: root, Entry: entry})
	}
	return records, nil
}

// classify resolves an archive path to the scheme it installs under and its
// path relative to that scheme's directory.
func classify(archivePath, dataDir string, root Scheme) (Scheme, string, error) {
	inner, found := strings.CutPrefix(archivePath, dataDir+"/")
	if !found {
		return root, archivePath, nil
	}
	name, rest, _ := strings.Cut(inner, "/")
	scheme, err := ParseScheme(name)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %v", ErrInvalidDataSubdirectory, archivePath, err)
	}
	if rest == "" {
		return "", "", fmt.Errorf("%w: %s has no path under the scheme", ErrInvalidDataSubdirectory, archivePath)
	}
	return scheme, rest, nil
}

// checkVersion enforces the declared Wheel-Version against the implemented
// one. Same major with a newer minor installs with a warning.
func checkVersion(declared string) error {
	if declared == "" {
		return fmt.Errorf("%w: WHEEL declares no Wheel-Version", ErrIncompatibleFormatVersion)
	}
	majorText, minorText, hasMinor := strings.Cut(strings.TrimSpace(declared), ".")
	major, err := strconv.Atoi(majorText)
	if err != nil {
		return fmt.Errorf("%w: malformed version %q", ErrIncompatibleFormatVersion, declared)
	}
	minor := 0
	if hasMinor {
		minor, err = strconv.Atoi(strings.TrimSpace(minorText))
		if err != nil || minor < 0 {
			return fmt.Errorf("%w: malformed version %q", ErrIncompatibleFormatVersion, declared)
		}
	}
	if major != supportedMajor {
		return fmt.Errorf("%w: %s (implemented: %d.%d)", ErrIncompatibleFormatVersion, declared, supportedMajor, supportedMinor)
	}
	if minor > supportedMinor {
		log.Warn("wheel declares a newer minor format version",
			"declared", declared,
			"implemented", fmt.Sprintf("%d.%d", supportedMajor, supportedMinor))
	}
	return nil
}

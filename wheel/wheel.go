// Package wheel provides read access to wheel archives: the filename
// grammar, the metadata directory, and a Source abstraction over the
// archive contents with a manifest validation pass.
//
// Reference: https://packaging.python.org/specifications/binary-distribution-format/
package wheel

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/pydist/wheel-installer/record"
)

// ErrInvalidName is returned for filenames that do not follow the
// {distribution}-{version}[-{buildtag}]-{platformtag}.whl convention.
var ErrInvalidName = errors.New("not a valid wheel filename")

// ErrNotFound is returned when a requested metadata file is absent.
var ErrNotFound = errors.New("no such metadata file")

// Filename holds the dash-separated components of a wheel archive filename.
type Filename struct {
	// Distribution is the distribution name, e.g. "urllib3".
	Distribution string
	// Version is the distribution version, e.g. "1.0".
	Version string
	// BuildTag is the optional build number. It must start with a digit.
	BuildTag string
	// CompatTag is the three-part python-abi-platform compatibility tag,
	// e.g. "py3-none-any".
	CompatTag string
}

// Distribution and version are matched lazily, the build tag must start
// with a digit, and the compatibility tag carries two internal dashes.
var filenameRegexp = regexp.MustCompile(
	`^(.+?)-(.*?)(?:-([0-9][^-]*?))?-(.+?-.+?-.+?)\.whl$`,
)

// ParseFilename parses a wheel archive filename into its components.
func ParseFilename(name string) (Filename, error) {
	m := filenameRegexp.FindStringSubmatch(name)
	if m == nil {
		return Filename{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return Filename{
		Distribution: m[1],
		Version:      m[2],
		BuildTag:     m[3],
		CompatTag:    m[4],
	}, nil
}

var normalizeRegexp = regexp.MustCompile(`[-_.]+`)

// normalizeName canonicalizes a distribution name the way PEP 503 does:
// runs of dashes, underscores and dots collapse to a single dash, compared
// case-insensitively.
func normalizeName(name string) string {
	return strings.ToLower(normalizeRegexp.ReplaceAllString(name, "-"))
}

// ContentFunc receives one non-directory archive entry. The contents reader
// is only valid for the duration of the call; it must not be retained.
type ContentFunc func(entry record.Entry, contents io.Reader, executable bool) error

// Source is a read-only view over an installable wheel archive.
type Source interface {
	// Distribution is the distribution name parsed from the archive filename.
	Distribution() string
	// Version is the version parsed from the archive filename.
	Version() string
	// MetadataDir is the name of the archive's metadata directory
	// ("{distribution}-{version}.dist-info").
	MetadataDir() string
	// MetadataFiles lists the relative names of the files under the
	// metadata directory.
	MetadataFiles() []string
	// ReadMetadata returns the UTF-8 contents of a file in the metadata
	// directory, or an error wrapping ErrNotFound.
	ReadMetadata(name string) (string, error)
	// Validate checks every archive entry against the embedded RECORD
	// manifest, collecting all issues into a single ValidationError. With
	// checkContent set, recorded digests and sizes are additionally
	// verified against the archive bytes.
	Validate(checkContent bool) error
	// Contents calls fn once per non-directory archive entry, in archive
	// order. Every call iterates the archive afresh from the start and
	// yields identical bytes. Entries without a RECORD row receive a
	// placeholder row with empty digest and size; reporting such rows is
	// Validate's job, not Contents'.
	Contents(fn ContentFunc) error
}

// Package record implements the RECORD content manifest embedded in wheel
// archives: the per-file listing of installed path, content digest and size.
//
// Reference: https://packaging.python.org/specifications/recording-installed-packages/
package record

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"strconv"
	"strings"
)

// ErrUnsupportedAlgorithm is returned when a digest names a hash algorithm
// outside the supported set. The wheel format requires sha256 or better;
// md5 and sha1 are deliberately not supported.
var ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

// NewHash returns a fresh hash.Hash for the named digest algorithm.
func NewHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
}

// Digest is a named hash of a file's contents. Value is the unpadded
// URL-safe base64 encoding of the raw digest, as mandated by the wheel
// RECORD format.
type Digest struct {
	Algorithm string
	Value     string
}

// NewDigest computes the digest of data with the named algorithm.
func NewDigest(algorithm string, data []byte) (Digest, error) {
	h, err := NewHash(algorithm)
	if err != nil {
		return Digest{}, err
	}
	h.Write(data)
	return FromHash(algorithm, h), nil
}

// FromHash builds the Digest for a hash that has consumed all its input.
func FromHash(algorithm string, h hash.Hash) Digest {
	return Digest{
		Algorithm: algorithm,
		Value:     base64.RawURLEncoding.EncodeToString(h.Sum(nil)),
	}
}

// ParseDigest parses the "algorithm=value" form used by the second RECORD
// column. The algorithm must be locally supported.
func ParseDigest(s string) (Digest, error) {
	algorithm, value, found := strings.Cut(s, "=")
	if !found || algorithm == "" || value == "" {
		return Digest{}, fmt.Errorf("digest %q does not follow the algorithm=value format", s)
	}
	if _, err := NewHash(algorithm); err != nil {
		return Digest{}, err
	}
	return Digest{Algorithm: algorithm, Value: value}, nil
}

// String returns the "algorithm=value" serialized form.
func (d Digest) String() string {
	return d.Algorithm + "=" + d.Value
}

// Validate reports whether data hashes to this digest.
func (d Digest) Validate(data []byte) bool {
	computed, err := NewDigest(d.Algorithm, data)
	if err != nil {
		return false
	}
	return computed == d
}

// Entry is a single RECORD row: a slash-separated relative path, an optional
// content digest and an optional size in bytes. An entry with neither digest
// nor size is legal and reserved for the RECORD file's own row, which cannot
// hash itself.
type Entry struct {
	Path   string
	Digest *Digest
	Size   *int64
}

// InvalidEntryError reports every problem found in a single RECORD row.
type InvalidEntryError struct {
	Elements [3]string
	Issues   []string
}

func (e *InvalidEntryError) Error() string {
	return fmt.Sprintf("invalid RECORD entry %v: %s", e.Elements, strings.Join(e.Issues, ", "))
}

// EntryFromRow builds an Entry from the three textual elements of a RECORD
// row. Empty digest and size elements yield absent fields. All problems with
// the row are collected into a single InvalidEntryError.
func EntryFromRow(path, digest, size string) (Entry, error) {
	var issues []string

	if path == "" {
		issues = append(issues, "path cannot be empty")
	}

	var digestValue *Digest
	if digest != "" {
		parsed, err := ParseDigest(digest)
		if err != nil {
			issues = append(issues, err.Error())
		} else {
			digestValue = &parsed
		}
	}

	var sizeValue *int64
	if size != "" {
		parsed, err := strconv.ParseInt(size, 10, 64)
		if err != nil || parsed < 0 {
			issues = append(issues, fmt.Sprintf("size %q is not a non-negative integer", size))
		} else {
			sizeValue = &parsed
		}
	}

	if len(issues) > 0 {
		return Entry{}, &InvalidEntryError{Elements: [3]string{path, digest, size}, Issues: issues}
	}
	return Entry{Path: path, Digest: digestValue, Size: sizeValue}, nil
}

// Row returns the three textual elements of the entry, with empty strings
// for absent digest and size.
func (e Entry) Row() [3]string {
	row := [3]string{e.Path, "", ""}
	if e.Digest != nil {
		row[1] = e.Digest.String()
	}
	if e.Size != nil {
		row[2] = strconv.FormatInt(*e.Size, 10)
	}
	return row
}

// Validate reports whether data matches the recorded digest and size.
// Absent fields are not checked.
func (e Entry) Validate(data []byte) bool {
	if e.Size != nil && int64(len(data)) != *e.Size {
		return false
	}
	if e.Digest != nil {
		return e.Digest.Validate(data)
	}
	return true
}

// ValidateStream reports whether the stream's contents match the recorded
// digest and size. The stream is consumed exactly once: digest and byte
// count are computed together in a single pass, with the bytes routed to a
// discard sink when no digest is recorded.
func (e Entry) ValidateStream(r io.Reader) (bool, error) {
	var h hash.Hash
	sink := io.Discard
	if e.Digest != nil {
		var err error
		h, err = NewHash(e.Digest.Algorithm)
		if err != nil {
			return false, err
		}
		sink = h
	}

	n, err := io.Copy(sink, r)
	if err != nil {
		return false, fmt.Errorf("reading contents of %s: %w", e.Path, err)
	}

	if e.Size != nil && n != *e.Size {
		return false, nil
	}
	if h != nil {
		return FromHash(e.Digest.Algorithm, h) == *e.Digest, nil
	}
	return true, nil
}

package install

import (
	"errors"
	"fmt"
)

// Scheme is one of the installation target categories a wheel's files are
// classified into. Each scheme maps to its own directory on the destination.
type Scheme string

const (
	// SchemePurelib holds platform-independent importable code.
	SchemePurelib Scheme = "purelib"
	// SchemePlatlib holds platform-specific importable code.
	SchemePlatlib Scheme = "platlib"
	// SchemeHeaders holds C header files.
	SchemeHeaders Scheme = "headers"
	// SchemeScripts holds executables and generated launchers.
	SchemeScripts Scheme = "scripts"
	// SchemeData holds everything else.
	SchemeData Scheme = "data"
)

// AllSchemes lists every valid scheme.
var AllSchemes = [...]Scheme{SchemePurelib, SchemePlatlib, SchemeHeaders, SchemeScripts, SchemeData}

// ErrUnknownScheme is returned when a name does not match any scheme.
var ErrUnknownScheme = errors.New("unknown scheme")

// ParseScheme converts a scheme name from a wheel's .data directory into a
// Scheme.
func ParseScheme(name string) (Scheme, error) {
	for _, s := range AllSchemes {
		if name == string(s) {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScheme, name)
}

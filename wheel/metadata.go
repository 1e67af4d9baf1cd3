package wheel

import (
	"bufio"
	"fmt"
	"net/textproto"
	"regexp"
	"strings"
)

// ParseMetadata parses an RFC 822 style key/value block, the syntax shared
// by the WHEEL and METADATA files.
func ParseMetadata(contents string) (textproto.MIMEHeader, error) {
	// The header reader needs a blank line terminator, which the files on
	// disk do not always carry.
	if !strings.HasSuffix(contents, "\n") {
		contents += "\n"
	}
	reader := textproto.NewReader(bufio.NewReader(strings.NewReader(contents + "\n")))
	header, err := reader.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("parsing metadata block: %w", err)
	}
	return header, nil
}

// Entry-point sections that declare executable scripts.
const (
	SectionConsole = "console"
	SectionGUI     = "gui"
)

// EntryPoint is one declared script: a name bound to a dotted module path
// and a dotted attribute within it.
type EntryPoint struct {
	Name    string
	Module  string
	Attr    string
	Section string
}

var entryPointRegexp = regexp.MustCompile(`^([\w.]+)\s*:\s*([\w.]+)\s*(?:\[.*\])?$`)

// ParseEntryPoints parses the INI-style entry_points.txt table. Only the
// [console_scripts] and [gui_scripts] sections are consulted; every line in
// them must be of the form "name = dotted.module:dotted.attr".
func ParseEntryPoints(text string) ([]EntryPoint, error) {
	var points []EntryPoint
	var section string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		var kind string
		switch section {
		case "console_scripts":
			kind = SectionConsole
		case "gui_scripts":
			kind = SectionGUI
		default:
			continue
		}

		name, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("entry point %q is not a name = value pair", line)
		}
		m := entryPointRegexp.FindStringSubmatch(strings.TrimSpace(value))
		if m == nil {
			return nil, fmt.Errorf("entry point %q must reference module:attribute", line)
		}
		points = append(points, EntryPoint{
			Name:    strings.TrimSpace(name),
			Module:  m[1],
			Attr:    m[2],
			Section: kind,
		})
	}
	return points, nil
}

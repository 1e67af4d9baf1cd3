package record

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseFile(t *testing.T) {
	digest, err := NewDigest("sha256", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	input := "a/b.py," + digest.String() + ",5\n" +
		"demo-1.0.dist-info/RECORD,,\n"

	entries, err := ParseFile(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("parsed %d entries, want 2", len(entries))
	}
	if entries[0].Path != "a/b.py" || entries[0].Digest == nil || entries[0].Size == nil {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Path != "demo-1.0.dist-info/RECORD" || entries[1].Digest != nil || entries[1].Size != nil {
		t.Errorf("self entry = %+v", entries[1])
	}
}

func TestParseFileQuotedComma(t *testing.T) {
	entries, err := ParseFile(strings.NewReader("\"odd, name.py\",,\n"))
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Path != "odd, name.py" {
		t.Errorf("path = %q", entries[0].Path)
	}
}

func TestParseFileBackslashes(t *testing.T) {
	entries, err := ParseFile(strings.NewReader(`pkg\sub\mod.py,,` + "\n"))
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Path != "pkg/sub/mod.py" {
		t.Errorf("path = %q, want forward slashes", entries[0].Path)
	}
}

func TestParseFileTooFewColumns(t *testing.T) {
	_, err := ParseFile(strings.NewReader("good,,\nbad,\n"))
	if err == nil {
		t.Fatal("short row accepted")
	}
	if !strings.Contains(err.Error(), "row index 1") {
		t.Errorf("error %q does not identify row index 1", err)
	}
}

func TestParseFileRowIndexCountsBlankLines(t *testing.T) {
	// The reader skips blank lines; the reported index must still be the
	// physical position of the offending row.
	_, err := ParseFile(strings.NewReader("good,,\n\nbad,\n"))
	if err == nil {
		t.Fatal("short row accepted")
	}
	if !strings.Contains(err.Error(), "row index 2") {
		t.Errorf("error %q does not identify row index 2", err)
	}
}

func TestParseFileExtraColumnsTolerated(t *testing.T) {
	entries, err := ParseFile(strings.NewReader("a.py,,,extra\n"))
	if err != nil {
		t.Fatalf("row with extra columns rejected: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "a.py" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	digest, err := NewDigest("sha256", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	size := int64(5)
	entries := []Entry{
		{Path: "a/b.py", Digest: &digest, Size: &size},
		{Path: "odd, name.py", Digest: &digest, Size: &size},
		{Path: "demo-1.0.dist-info/RECORD"},
	}

	var buf bytes.Buffer
	if err := WriteFile(&buf, entries); err != nil {
		t.Fatal(err)
	}
	back, err := ParseFile(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != len(entries) {
		t.Fatalf("round trip returned %d entries, want %d", len(back), len(entries))
	}
	for i := range entries {
		if back[i].Row() != entries[i].Row() {
			t.Errorf("entry %d changed: %v vs %v", i, back[i].Row(), entries[i].Row())
		}
	}
}

func TestWriteFilePreservesOrder(t *testing.T) {
	entries := []Entry{{Path: "z.py"}, {Path: "a.py"}}
	var buf bytes.Buffer
	if err := WriteFile(&buf, entries); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "z.py,,\na.py,,\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

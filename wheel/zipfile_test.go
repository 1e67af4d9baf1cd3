package wheel

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/pydist/wheel-installer/record"
)

type testFile struct {
	name       string
	data       string
	executable bool
	unrecorded bool // leave out of RECORD
}

// buildArchive assembles a zip archive with a generated RECORD manifest
// under metadataDir. With rawRecord set, that text replaces the generated
// manifest verbatim.
func buildArchive(t *testing.T, metadataDir string, files []testFile, rawRecord string) []byte {
	t.Helper()

	var manifest strings.Builder
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		header := &zip.FileHeader{Name: f.name, Method: zip.Deflate}
		mode := fs.FileMode(0o644)
		if f.executable {
			mode = 0o755
		}
		header.SetMode(mode)
		w, err := zw.CreateHeader(header)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(f.data)); err != nil {
			t.Fatal(err)
		}
		if f.unrecorded {
			continue
		}
		digest, err := record.NewDigest("sha256", []byte(f.data))
		if err != nil {
			t.Fatal(err)
		}
		fmt.Fprintf(&manifest, "%s,%s,%d\n", f.name, digest, len(f.data))
	}

	recordPath := metadataDir + "/RECORD"
	contents := manifest.String() + recordPath + ",,\n"
	if rawRecord != "" {
		contents = rawRecord
	}
	w, err := zw.Create(recordPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(contents)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func openArchive(t *testing.T, filename string, data []byte) *File {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewFile(zr, filename)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

var demoFiles = []testFile{
	{name: "demo/__init__.py", data: "print('hi')\n"},
	{name: "demo/tool", data: "#!python\nrun()\n", executable: true},
	{name: "demo-1.0.dist-info/WHEEL", data: "Wheel-Version: 1.0\nRoot-Is-Purelib: true\n"},
	{name: "demo-1.0.dist-info/METADATA", data: "Name: demo\nVersion: 1.0\n"},
}

func TestNewFileMetadataDir(t *testing.T) {
	data := buildArchive(t, "demo-1.0.dist-info", demoFiles, "")
	w := openArchive(t, "demo-1.0-py3-none-any.whl", data)
	if w.Distribution() != "demo" || w.Version() != "1.0" {
		t.Errorf("parsed %s %s", w.Distribution(), w.Version())
	}
	if w.MetadataDir() != "demo-1.0.dist-info" {
		t.Errorf("metadata dir = %q", w.MetadataDir())
	}
}

func TestNewFileNormalizedMetadataDir(t *testing.T) {
	// PEP 503 normalization bridges naming differences between the archive
	// filename and the metadata directory.
	files := []testFile{
		{name: "Demo_Pkg-1.0.dist-info/WHEEL", data: "Wheel-Version: 1.0\n"},
	}
	data := buildArchive(t, "Demo_Pkg-1.0.dist-info", files, "")
	w := openArchive(t, "demo.pkg-1.0-py3-none-any.whl", data)
	if w.MetadataDir() != "Demo_Pkg-1.0.dist-info" {
		t.Errorf("metadata dir = %q", w.MetadataDir())
	}
}

func TestNewFileMetadataNameMismatch(t *testing.T) {
	// Version-extended names share a normalized prefix with demo-1.0 but
	// identify a different release, so they must be refused too.
	for _, dir := range []string{
		"other-2.0.dist-info",
		"demo-1.01.dist-info",
		"demo-1.0.post1.dist-info",
		"demo-1.0rc1.dist-info",
	} {
		data := buildArchive(t, dir, nil, "")
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := NewFile(zr, "demo-1.0-py3-none-any.whl"); !errors.Is(err, ErrMetadataNameMismatch) {
			t.Errorf("%s: error = %v, want ErrMetadataNameMismatch", dir, err)
		}
	}
}

func TestNewFileAmbiguousMetadataDir(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"demo-1.0.dist-info/WHEEL", "extra-2.0.dist-info/WHEEL"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte("Wheel-Version: 1.0\n"))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewFile(zr, "demo-1.0-py3-none-any.whl")
	var ambiguous *AmbiguousMetadataDirError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("error = %v, want AmbiguousMetadataDirError", err)
	}
	if len(ambiguous.Candidates) != 2 {
		t.Errorf("candidates = %v", ambiguous.Candidates)
	}
}

func TestMetadataFiles(t *testing.T) {
	data := buildArchive(t, "demo-1.0.dist-info", demoFiles, "")
	w := openArchive(t, "demo-1.0-py3-none-any.whl", data)

	got := w.MetadataFiles()
	want := map[string]bool{"WHEEL": true, "METADATA": true, "RECORD": true}
	if len(got) != len(want) {
		t.Fatalf("MetadataFiles = %v", got)
	}
	for _, name := range got {
		if !want[name] {
			t.Errorf("unexpected metadata file %q", name)
		}
	}
}

func TestReadMetadata(t *testing.T) {
	data := buildArchive(t, "demo-1.0.dist-info", demoFiles, "")
	w := openArchive(t, "demo-1.0-py3-none-any.whl", data)

	contents, err := w.ReadMetadata("WHEEL")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(contents, "Wheel-Version: 1.0") {
		t.Errorf("WHEEL contents = %q", contents)
	}

	if _, err := w.ReadMetadata("entry_points.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file error = %v, want ErrNotFound", err)
	}
}

func TestValidate(t *testing.T) {
	data := buildArchive(t, "demo-1.0.dist-info", demoFiles, "")
	w := openArchive(t, "demo-1.0-py3-none-any.whl", data)
	if err := w.Validate(true); err != nil {
		t.Errorf("valid archive failed validation: %v", err)
	}
}

func TestValidateUnrecordedFile(t *testing.T) {
	files := append([]testFile{}, demoFiles...)
	files = append(files, testFile{name: "demo/stray.py", data: "x = 1\n", unrecorded: true})
	data := buildArchive(t, "demo-1.0.dist-info", files, "")
	w := openArchive(t, "demo-1.0-py3-none-any.whl", data)

	err := w.Validate(false)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if len(verr.Issues) != 1 {
		t.Fatalf("issues = %v, want exactly one", verr.Issues)
	}
	if !strings.Contains(verr.Issues[0], "demo/stray.py") {
		t.Errorf("issue %q does not name the stray file", verr.Issues[0])
	}
}

func TestValidateSignatureSidecarsExempt(t *testing.T) {
	files := append([]testFile{}, demoFiles...)
	files = append(files,
		testFile{name: "demo-1.0.dist-info/RECORD.jws", data: "{}", unrecorded: true},
		testFile{name: "demo-1.0.dist-info/RECORD.p7s", data: "sig", unrecorded: true},
	)
	data := buildArchive(t, "demo-1.0.dist-info", files, "")
	w := openArchive(t, "demo-1.0-py3-none-any.whl", data)
	if err := w.Validate(false); err != nil {
		t.Errorf("signature sidecars flagged: %v", err)
	}
}

func TestValidateContentMismatch(t *testing.T) {
	// The manifest records a digest for different contents.
	digest, err := record.NewDigest("sha256", []byte("expected"))
	if err != nil {
		t.Fatal(err)
	}
	raw := fmt.Sprintf("demo/mod.py,%s,8\ndemo-1.0.dist-info/RECORD,,\n", digest)
	files := []testFile{
		{name: "demo/mod.py", data: "actually!", unrecorded: true},
	}
	data := buildArchive(t, "demo-1.0.dist-info", files, raw)
	w := openArchive(t, "demo-1.0-py3-none-any.whl", data)

	if err := w.Validate(false); err != nil {
		t.Errorf("metadata-only validation flagged content: %v", err)
	}
	err = w.Validate(true)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if !strings.Contains(err.Error(), "demo/mod.py") {
		t.Errorf("error %q does not name the mismatched file", err)
	}
}

func TestValidateDuplicateAndSelfEntry(t *testing.T) {
	digest, err := record.NewDigest("sha256", []byte("x = 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	raw := fmt.Sprintf("demo/mod.py,%s,6\ndemo/mod.py,%s,6\ndemo-1.0.dist-info/RECORD,%s,6\n",
		digest, digest, digest)
	files := []testFile{
		{name: "demo/mod.py", data: "x = 1\n", unrecorded: true},
	}
	data := buildArchive(t, "demo-1.0.dist-info", files, raw)
	w := openArchive(t, "demo-1.0-py3-none-any.whl", data)

	err = w.Validate(false)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if len(verr.Issues) != 2 {
		t.Errorf("issues = %v, want duplicate and self-entry reports", verr.Issues)
	}
}

func TestValidateUnparseableRecord(t *testing.T) {
	data := buildArchive(t, "demo-1.0.dist-info", nil, "short,row\n")
	w := openArchive(t, "demo-1.0-py3-none-any.whl", data)

	err := w.Validate(false)
	if err == nil {
		t.Fatal("unparseable RECORD accepted")
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		t.Errorf("parse failure reported as ValidationError: %v", err)
	}
}

func TestContents(t *testing.T) {
	data := buildArchive(t, "demo-1.0.dist-info", demoFiles, "")
	w := openArchive(t, "demo-1.0-py3-none-any.whl", data)

	collect := func() map[string]string {
		seen := make(map[string]string)
		err := w.Contents(func(entry record.Entry, contents io.Reader, executable bool) error {
			data, err := io.ReadAll(contents)
			if err != nil {
				return err
			}
			seen[entry.Path] = string(data)
			if executable != (entry.Path == "demo/tool") {
				t.Errorf("%s executable = %v", entry.Path, executable)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		return seen
	}

	first := collect()
	if len(first) != 5 {
		t.Fatalf("saw %d entries, want 5", len(first))
	}
	if first["demo/__init__.py"] != "print('hi')\n" {
		t.Errorf("contents = %q", first["demo/__init__.py"])
	}

	// A second pass yields the same bytes.
	second := collect()
	for path, data := range first {
		if second[path] != data {
			t.Errorf("second pass changed %s", path)
		}
	}
}

func TestContentsToleratesBrokenRecord(t *testing.T) {
	files := []testFile{
		{name: "demo/mod.py", data: "x = 1\n", unrecorded: true},
	}
	data := buildArchive(t, "demo-1.0.dist-info", files, "short,row\n")
	w := openArchive(t, "demo-1.0-py3-none-any.whl", data)

	var entries []record.Entry
	err := w.Contents(func(entry record.Entry, _ io.Reader, _ bool) error {
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if entry.Digest != nil || entry.Size != nil {
			t.Errorf("placeholder entry %s carries manifest data", entry.Path)
		}
	}
}

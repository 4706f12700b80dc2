package crcxml

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roffe/kefexcan"
	"github.com/roffe/kefexcan/pkg/crc"
)

func sampleTree() *Node {
	root := NewNode("bus")
	root.SetAttr("name", "body")
	node := root.AddChild(NewNode("node"))
	node.SetAttr("address", "2")
	node.AddChild(&Node{Name: "comment", Text: "engine control"})
	root.AddChild(&Node{Name: "bitrate", Text: "500"})
	return root
}

func TestChecksum_FeedOrder(t *testing.T) {
	root := &Node{
		Name:  "a",
		Attrs: []Attr{{"file_crc", "0000"}, {"k", "v"}},
		Text:  "  t  ",
		Children: []*Node{
			{Name: "b", Attrs: []Attr{{"file_crc", "x"}}},
		},
	}
	want := crc.Checksum16([]byte("akvtbfile_crcx"))
	if got := Checksum(root); got != want {
		t.Fatalf("Checksum() = 0x%04X, want 0x%04X", got, want)
	}
}

func TestSignVerify(t *testing.T) {
	root := sampleTree()
	sum := Sign(root)
	v, ok := root.Attr(ChecksumAttr)
	if !ok || len(v) != 4 || v != strings.ToUpper(v) {
		t.Fatalf("checksum attribute %q", v)
	}
	if Checksum(root) != sum {
		t.Fatal("checksum must not depend on the checksum attribute")
	}
	if err := Verify(root); err != nil {
		t.Fatal(err)
	}

	root.Child("node").SetAttr("address", "3")
	if err := Verify(root); !errors.Is(err, kefexcan.ErrChecksum) {
		t.Fatalf("Verify() after edit = %v, want ErrChecksum", err)
	}

	root.RemoveAttr(ChecksumAttr)
	if err := Verify(root); !errors.Is(err, kefexcan.ErrIO) {
		t.Fatalf("Verify() without attribute = %v, want ErrIO", err)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.xml")
	root := sampleTree()
	if err := Save(path, root); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if Checksum(got) != Checksum(root) {
		t.Fatal("loaded tree differs")
	}
	if c := got.Child("node").Child("comment"); c == nil || c.Text != "engine control" {
		t.Fatalf("comment = %+v", c)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := bytes.Replace(b, []byte(">500<"), []byte(">250<"), 1)
	if err := os.WriteFile(path, tampered, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, kefexcan.ErrChecksum) {
		t.Fatalf("Load() tampered = %v, want ErrChecksum", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.xml")); !errors.Is(err, kefexcan.ErrIO) {
		t.Fatalf("Load() missing file = %v, want ErrIO", err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"missing attribute", `<bus><node/></bus>`, kefexcan.ErrIO},
		{"bad hex", `<bus file_crc="zz"/>`, kefexcan.ErrIO},
		{"malformed", `<bus file_crc="0000">`, kefexcan.ErrIO},
		{"empty", ``, kefexcan.ErrIO},
		{"mismatch", `<bus file_crc="0000"/>`, kefexcan.ErrChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.doc)); !errors.Is(err, tt.want) {
				t.Fatalf("Parse() = %v, want %v", err, tt.want)
			}
		})
	}

	var buf bytes.Buffer
	if err := Encode(&buf, sampleTree()); err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(&buf); err != nil {
		t.Fatalf("Parse() of encoded tree: %v", err)
	}
}

func TestValidator(t *testing.T) {
	v := NewValidator()
	root := sampleTree()
	if err := v.Validate(root); err != nil {
		t.Fatal(err)
	}
	_, misses := v.Stats()
	if misses != 4 {
		t.Fatalf("first pass misses = %d, want 4", misses)
	}

	if err := v.Validate(root); err != nil {
		t.Fatal(err)
	}
	hits, misses := v.Stats()
	if hits != 1 || misses != 4 {
		t.Fatalf("second pass hits/misses = %d/%d, want 1/4", hits, misses)
	}

	root.Child("bitrate").Text = "250"
	if err := v.Validate(root); err != nil {
		t.Fatal(err)
	}
	hits, misses = v.Stats()
	if hits != 2 || misses != 6 {
		t.Fatalf("after edit hits/misses = %d/%d, want 2/6", hits, misses)
	}

	root.Child("node").Attrs = append(root.Child("node").Attrs, Attr{"address", "9"})
	if err := v.Validate(root); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Validate() duplicate attribute = %v, want ErrInvalid", err)
	}
	if err := v.Validate(&Node{Name: "bad name"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Validate() bad name = %v, want ErrInvalid", err)
	}

	v.Reset()
	if h, m := v.Stats(); h != 0 || m != 0 {
		t.Fatal("Reset() kept stats")
	}
}

// Package crcxml reads and writes XML configuration files protected by a
// CRC16 stored in an attribute of the root node.
package crcxml

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/roffe/kefexcan"
	"github.com/roffe/kefexcan/pkg/crc"
)

// ChecksumAttr is the root attribute holding the file checksum.
const ChecksumAttr = "file_crc"

type Attr struct {
	Name  string
	Value string
}

// Node is one element of a configuration tree.
type Node struct {
	Name     string
	Attrs    []Attr
	Text     string
	Children []*Node
}

func NewNode(name string) *Node {
	return &Node{Name: name}
}

func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr replaces the value of name or appends a new attribute.
func (n *Node) SetAttr(name, value string) {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
}

func (n *Node) RemoveAttr(name string) {
	for i, a := range n.Attrs {
		if a.Name == name {
			n.Attrs = append(n.Attrs[:i], n.Attrs[i+1:]...)
			return
		}
	}
}

func (n *Node) AddChild(c *Node) *Node {
	n.Children = append(n.Children, c)
	return c
}

// Child returns the first child called name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Checksum computes the CRC16 of the tree depth first over node names,
// attribute names and values and trimmed text. The checksum attribute of
// root is skipped.
func Checksum(root *Node) uint16 {
	return checksum(crc.CRC16Seed, root, true)
}

func checksum(sum uint16, n *Node, root bool) uint16 {
	sum = crc.CRC16(sum, []byte(n.Name))
	for _, a := range n.Attrs {
		if root && a.Name == ChecksumAttr {
			continue
		}
		sum = crc.CRC16(sum, []byte(a.Name))
		sum = crc.CRC16(sum, []byte(a.Value))
	}
	sum = crc.CRC16(sum, []byte(strings.TrimSpace(n.Text)))
	for _, c := range n.Children {
		sum = checksum(sum, c, false)
	}
	return sum
}

// Sign stores the checksum of root in its checksum attribute.
func Sign(root *Node) uint16 {
	sum := Checksum(root)
	root.SetAttr(ChecksumAttr, fmt.Sprintf("%04X", sum))
	return sum
}

// Verify compares the stored checksum with the tree contents.
func Verify(root *Node) error {
	v, ok := root.Attr(ChecksumAttr)
	if !ok {
		return fmt.Errorf("%w: root <%s> has no %s attribute", kefexcan.ErrIO, root.Name, ChecksumAttr)
	}
	stored, err := strconv.ParseUint(strings.TrimSpace(v), 16, 16)
	if err != nil {
		return fmt.Errorf("%w: invalid %s %q", kefexcan.ErrIO, ChecksumAttr, v)
	}
	if sum := Checksum(root); uint16(stored) != sum {
		return fmt.Errorf("%w: stored 0x%04X, computed 0x%04X", kefexcan.ErrChecksum, stored, sum)
	}
	return nil
}

// qualified keeps namespace declarations, other names are stored unprefixed.
func qualified(name xml.Name) string {
	if name.Space == "xmlns" {
		return "xmlns:" + name.Local
	}
	return name.Local
}

// Decode reads a tree without checking the checksum.
func Decode(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)
	var stack []*Node
	var root *Node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: qualified(t.Name)}
			for _, a := range t.Attr {
				n.Attrs = append(n.Attrs, Attr{Name: qualified(a.Name), Value: a.Value})
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("%w: more than one root element", kefexcan.ErrIO)
				}
				root = n
			} else {
				stack[len(stack)-1].AddChild(n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			top := stack[len(stack)-1]
			top.Text = strings.TrimSpace(top.Text)
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", kefexcan.ErrIO)
	}
	return root, nil
}

// Parse reads a tree and verifies its checksum.
func Parse(r io.Reader) (*Node, error) {
	root, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if err := Verify(root); err != nil {
		return nil, err
	}
	return root, nil
}

func Load(path string) (*Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
	}
	defer f.Close()
	root, err := Parse(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return root, nil
}

// Encode signs root and writes it as indented XML.
func Encode(w io.Writer, root *Node) error {
	Sign(root)
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := encodeNode(enc, root); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func encodeNode(enc *xml.Encoder, n *Node) error {
	start := xml.StartElement{Name: xml.Name{Local: n.Name}}
	for _, a := range n.Attrs {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: a.Name}, Value: a.Value})
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if text := strings.TrimSpace(n.Text); text != "" {
		if err := enc.EncodeToken(xml.CharData(text)); err != nil {
			return err
		}
	}
	for _, c := range n.Children {
		if err := encodeNode(enc, c); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// Save signs root and writes it to path.
func Save(path string, root *Node) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
	}
	w := bufio.NewWriter(f)
	if err := Encode(w, root); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
	}
	return f.Close()
}

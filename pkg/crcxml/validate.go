package crcxml

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/roffe/kefexcan/pkg/crc"
)

var ErrInvalid = errors.New("invalid configuration")

const defaultMemoSize = 4096

// Validator checks the structure of configuration trees. Results are
// memoized per subtree, keyed by a CRC32 over the subtree contents, so
// unchanged parts of a tree are not checked again. A changed subtree
// hashes to a new key.
type Validator struct {
	mu      sync.Mutex
	memo    map[uint32]error
	maxMemo int
	hits    int
	misses  int
}

func NewValidator() *Validator {
	return &Validator{
		memo:    make(map[uint32]error),
		maxMemo: defaultMemoSize,
	}
}

// Validate checks every node: names must be non-empty and free of white
// space and attribute names must be unique within a node.
func (v *Validator) Validate(root *Node) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	hashes := make(map[*Node]uint32)
	hashTree(root, hashes)
	return v.validate(root, "/"+root.Name, hashes)
}

func (v *Validator) validate(n *Node, path string, hashes map[*Node]uint32) error {
	h := hashes[n]
	if err, ok := v.memo[h]; ok {
		v.hits++
		return err
	}
	v.misses++
	err := checkNode(n, path)
	if err == nil {
		for i, c := range n.Children {
			if err = v.validate(c, fmt.Sprintf("%s/%s[%d]", path, c.Name, i), hashes); err != nil {
				break
			}
		}
	}
	if len(v.memo) >= v.maxMemo {
		v.memo = make(map[uint32]error)
	}
	v.memo[h] = err
	return err
}

func checkNode(n *Node, path string) error {
	if n.Name == "" || strings.ContainsAny(n.Name, " \t\r\n") {
		return fmt.Errorf("%w: %s: invalid node name %q", ErrInvalid, path, n.Name)
	}
	seen := make(map[string]struct{}, len(n.Attrs))
	for _, a := range n.Attrs {
		if a.Name == "" || strings.ContainsAny(a.Name, " \t\r\n") {
			return fmt.Errorf("%w: %s: invalid attribute name %q", ErrInvalid, path, a.Name)
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate attribute %q", ErrInvalid, path, a.Name)
		}
		seen[a.Name] = struct{}{}
	}
	return nil
}

// Stats returns the number of memo hits and misses so far.
func (v *Validator) Stats() (hits, misses int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hits, v.misses
}

// Reset drops all memoized results.
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.memo = make(map[uint32]error)
	v.hits, v.misses = 0, 0
}

// hashTree fills hashes bottom up. Strings are length prefixed so that
// moving bytes between fields changes the hash.
func hashTree(n *Node, hashes map[*Node]uint32) uint32 {
	h := crc.CRC32Seed
	field := func(s string) {
		h = crc.CRC32(h, binary.LittleEndian.AppendUint32(nil, uint32(len(s))))
		h = crc.CRC32(h, []byte(s))
	}
	field(n.Name)
	for _, a := range n.Attrs {
		field(a.Name)
		field(a.Value)
	}
	field(strings.TrimSpace(n.Text))
	for _, c := range n.Children {
		h = crc.CRC32(h, binary.LittleEndian.AppendUint32(nil, hashTree(c, hashes)))
	}
	hashes[n] = h
	return h
}

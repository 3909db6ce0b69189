package objects

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/NahomAnteneh/oxen/internal/ohash"
)

// NodeKind discriminates the four Merkle tree node variants.
type NodeKind uint8

const (
	KindDir NodeKind = iota + 1
	KindVNode
	KindFile
	KindSchema
)

func (k NodeKind) dirName() string {
	switch k {
	case KindDir:
		return "dirs"
	case KindVNode:
		return "vnodes"
	case KindFile:
		return "files"
	case KindSchema:
		return "schemas"
	default:
		return "unknown"
	}
}

// NodeStore persists the four content-addressed node variants under
// .oxen/objects/{dirs,vnodes,files,schemas}/<hash>.
type NodeStore struct {
	root string // path to .oxen/objects
}

// NewNodeStore creates a NodeStore rooted at the repository's
// .oxen/objects directory.
func NewNodeStore(objectsDir string) *NodeStore {
	return &NodeStore{root: objectsDir}
}

func (n *NodeStore) pathFor(kind NodeKind, h ohash.Hash128) string {
	return filepath.Join(n.root, kind.dirName(), h.String())
}

func (n *NodeStore) write(kind NodeKind, h ohash.Hash128, data []byte) error {
	path := n.pathFor(kind, h)
	if _, err := os.Stat(path); err == nil {
		return nil // content-addressed: already present, nodes are never mutated
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create node directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write node %s: %w", h, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize node %s: %w", h, err)
	}
	return nil
}

func (n *NodeStore) read(kind NodeKind, h ohash.Hash128) ([]byte, error) {
	data, err := os.ReadFile(n.pathFor(kind, h))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s node %s: %w", kind.dirName(), h, err)
	}
	return data, nil
}

// Has reports whether a node of the given kind and hash exists locally.
func (n *NodeStore) Has(kind NodeKind, h ohash.Hash128) bool {
	_, err := os.Stat(n.pathFor(kind, h))
	return err == nil
}

// ---- Dir ----

// DirChild is one entry of a Dir node: a VNode keyed by the 2-hex prefix
// of hash_path(path) for everything bucketed beneath it.
type DirChild struct {
	Prefix    string // 2 hex chars
	VNodeHash ohash.Hash128
}

// Dir holds an ordered, unique-by-prefix list of (path-hash-prefix,
// vnode-hash) children.
type Dir struct {
	Children []DirChild
}

// Hash computes the Dir's content hash. Children must already be sorted.
func (d *Dir) Hash() ohash.Hash128 {
	refs := make([]ohash.ChildRef, len(d.Children))
	for i, c := range d.Children {
		refs[i] = ohash.ChildRef{Label: c.Prefix, Hash: c.VNodeHash}
	}
	return ohash.HashChildren(refs)
}

func (d *Dir) encode() []byte {
	var buf []byte
	buf = appendUvarint(buf, uint64(len(d.Children)))
	for _, c := range d.Children {
		buf = append(buf, c.Prefix...)
		buf = append(buf, c.VNodeHash[:]...)
	}
	return buf
}

func decodeDir(data []byte) (*Dir, error) {
	n, rest, err := readUvarint(data)
	if err != nil {
		return nil, err
	}
	d := &Dir{Children: make([]DirChild, 0, n)}
	for i := uint64(0); i < n; i++ {
		if len(rest) < 2+16 {
			return nil, fmt.Errorf("truncated dir node")
		}
		prefix := string(rest[:2])
		var h ohash.Hash128
		copy(h[:], rest[2:18])
		d.Children = append(d.Children, DirChild{Prefix: prefix, VNodeHash: h})
		rest = rest[18:]
	}
	return d, nil
}

// PutDir stores d, sorting its children by prefix first, and returns its
// hash. Children with duplicate prefixes are not removed.
func (n *NodeStore) PutDir(d *Dir) (ohash.Hash128, error) {
	sort.Slice(d.Children, func(i, j int) bool { return d.Children[i].Prefix < d.Children[j].Prefix })
	h := d.Hash()
	if err := n.write(KindDir, h, d.encode()); err != nil {
		return h, err
	}
	return h, nil
}

// GetDir loads a Dir node by hash.
func (n *NodeStore) GetDir(h ohash.Hash128) (*Dir, error) {
	data, err := n.read(KindDir, h)
	if err != nil {
		return nil, err
	}
	return decodeDir(data)
}

// ---- VNode ----

// EntryKind discriminates a VNode child: a regular file, a tabular schema
// marker, or a nested subdirectory.
type EntryKind uint8

const (
	EntryFile EntryKind = iota + 1
	EntrySchema
	EntryDir
)

// VNodeChild is one entry of a VNode: "(full-path, child-hash, kind)".
type VNodeChild struct {
	FullPath string
	Hash     ohash.Hash128
	Kind     EntryKind
}

// VNode is the bounded bucket of File/Schema/subdir entries sharing a
// 2-hex path-hash prefix.
type VNode struct {
	Children []VNodeChild
}

func (v *VNode) Hash() ohash.Hash128 {
	refs := make([]ohash.ChildRef, len(v.Children))
	for i, c := range v.Children {
		refs[i] = ohash.ChildRef{Label: c.FullPath, Hash: c.Hash}
	}
	return ohash.HashChildren(refs)
}

func (v *VNode) encode() []byte {
	var buf []byte
	buf = appendUvarint(buf, uint64(len(v.Children)))
	for _, c := range v.Children {
		buf = appendUvarint(buf, uint64(len(c.FullPath)))
		buf = append(buf, c.FullPath...)
		buf = append(buf, c.Hash[:]...)
		buf = append(buf, byte(c.Kind))
	}
	return buf
}

func decodeVNode(data []byte) (*VNode, error) {
	n, rest, err := readUvarint(data)
	if err != nil {
		return nil, err
	}
	v := &VNode{Children: make([]VNodeChild, 0, n)}
	for i := uint64(0); i < n; i++ {
		l, r2, err := readUvarint(rest)
		if err != nil {
			return nil, err
		}
		if uint64(len(r2)) < l+16+1 {
			return nil, fmt.Errorf("truncated vnode")
		}
		path := string(r2[:l])
		var h ohash.Hash128
		copy(h[:], r2[l:l+16])
		kind := EntryKind(r2[l+16])
		v.Children = append(v.Children, VNodeChild{FullPath: path, Hash: h, Kind: kind})
		rest = r2[l+17:]
	}
	return v, nil
}

// PutVNode stores v, sorting its children by full path first, and returns
// its hash. Children with duplicate paths are not removed.
func (n *NodeStore) PutVNode(v *VNode) (ohash.Hash128, error) {
	sort.Slice(v.Children, func(i, j int) bool { return v.Children[i].FullPath < v.Children[j].FullPath })
	h := v.Hash()
	if err := n.write(KindVNode, h, v.encode()); err != nil {
		return h, err
	}
	return h, nil
}

// GetVNode loads a VNode by hash.
func (n *NodeStore) GetVNode(h ohash.Hash128) (*VNode, error) {
	data, err := n.read(KindVNode, h)
	if err != nil {
		return nil, err
	}
	return decodeVNode(data)
}

// ---- File ----

// File holds a content hash, size, and mtime. ContentHash references the
// object-store entry for the content; this node's own hash (used as the
// VNode child hash) is distinct and computed from all of its fields so
// that a touch that only changes mtime still invalidates the tree above
// it appropriately.
type File struct {
	ContentHash ohash.Hash128
	Size        int64
	MtimeSec    int64
	MtimeNsec   int32
	Ext         string
}

func (f *File) encode() []byte {
	var buf []byte
	buf = append(buf, f.ContentHash[:]...)
	buf = appendUvarint(buf, uint64(f.Size))
	buf = appendUvarint(buf, uint64(f.MtimeSec))
	buf = appendUvarint(buf, uint64(f.MtimeNsec))
	buf = appendUvarint(buf, uint64(len(f.Ext)))
	buf = append(buf, f.Ext...)
	return buf
}

func (f *File) hash() ohash.Hash128 {
	return ohash.HashBytes(f.encode())
}

func decodeFile(data []byte) (*File, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("truncated file node")
	}
	f := &File{}
	copy(f.ContentHash[:], data[:16])
	rest := data[16:]
	var sz, sec, nsec, extLen uint64
	var err error
	sz, rest, err = readUvarint(rest)
	if err != nil {
		return nil, err
	}
	sec, rest, err = readUvarint(rest)
	if err != nil {
		return nil, err
	}
	nsec, rest, err = readUvarint(rest)
	if err != nil {
		return nil, err
	}
	extLen, rest, err = readUvarint(rest)
	if err != nil {
		return nil, err
	}
	if uint64(len(rest)) < extLen {
		return nil, fmt.Errorf("truncated file node ext")
	}
	f.Size = int64(sz)
	f.MtimeSec = int64(sec)
	f.MtimeNsec = int32(nsec)
	f.Ext = string(rest[:extLen])
	return f, nil
}

// PutFile stores the File node and returns its node hash (distinct from
// ContentHash — this is the hash used as a VNode child reference).
func (n *NodeStore) PutFile(f *File) (ohash.Hash128, error) {
	h := f.hash()
	if err := n.write(KindFile, h, f.encode()); err != nil {
		return h, err
	}
	return h, nil
}

// GetFile loads a File node by its node hash.
func (n *NodeStore) GetFile(h ohash.Hash128) (*File, error) {
	data, err := n.read(KindFile, h)
	if err != nil {
		return nil, err
	}
	return decodeFile(data)
}

// ---- Schema ----

// Field is one column of a Schema node.
type Field struct {
	Name          string
	Dtype         string
	DtypeOverride string // optional, empty if unset
	Metadata      map[string]string
}

// Schema holds an ordered list of fields (name, dtype, optional
// dtype override, optional metadata) describing a tabular file's shape.
// Schemas are keyed separately so they dedupe across commits.
type Schema struct {
	Fields []Field
}

func (s *Schema) encode() []byte {
	var buf []byte
	buf = appendUvarint(buf, uint64(len(s.Fields)))
	for _, f := range s.Fields {
		buf = appendString(buf, f.Name)
		buf = appendString(buf, f.Dtype)
		buf = appendString(buf, f.DtypeOverride)
		buf = appendUvarint(buf, uint64(len(f.Metadata)))
		keys := make([]string, 0, len(f.Metadata))
		for k := range f.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf = appendString(buf, k)
			buf = appendString(buf, f.Metadata[k])
		}
	}
	return buf
}

func (s *Schema) hash() ohash.Hash128 {
	return ohash.HashBytes(s.encode())
}

func decodeSchema(data []byte) (*Schema, error) {
	n, rest, err := readUvarint(data)
	if err != nil {
		return nil, err
	}
	s := &Schema{Fields: make([]Field, 0, n)}
	for i := uint64(0); i < n; i++ {
		var name, dtype, override string
		name, rest, err = readString(rest)
		if err != nil {
			return nil, err
		}
		dtype, rest, err = readString(rest)
		if err != nil {
			return nil, err
		}
		override, rest, err = readString(rest)
		if err != nil {
			return nil, err
		}
		var metaCount uint64
		metaCount, rest, err = readUvarint(rest)
		if err != nil {
			return nil, err
		}
		meta := make(map[string]string, metaCount)
		for j := uint64(0); j < metaCount; j++ {
			var k, v string
			k, rest, err = readString(rest)
			if err != nil {
				return nil, err
			}
			v, rest, err = readString(rest)
			if err != nil {
				return nil, err
			}
			meta[k] = v
		}
		s.Fields = append(s.Fields, Field{Name: name, Dtype: dtype, DtypeOverride: override, Metadata: meta})
	}
	return s, nil
}

// PutSchema stores the Schema node and returns its hash.
func (n *NodeStore) PutSchema(s *Schema) (ohash.Hash128, error) {
	h := s.hash()
	if err := n.write(KindSchema, h, s.encode()); err != nil {
		return h, err
	}
	return h, nil
}

// GetSchema loads a Schema node by hash.
func (n *NodeStore) GetSchema(h ohash.Hash128) (*Schema, error) {
	data, err := n.read(KindSchema, h)
	if err != nil {
		return nil, err
	}
	return decodeSchema(data)
}

// ---- varint/string helpers ----

func appendUvarint(buf []byte, v uint64) []byte {
	tmp := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(tmp, v)
	return append(buf, tmp[:n]...)
}

func readUvarint(data []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, nil, fmt.Errorf("malformed varint")
	}
	return v, data[n:], nil
}

func appendString(buf []byte, s string) []byte {
	buf = appendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func readString(data []byte) (string, []byte, error) {
	n, rest, err := readUvarint(data)
	if err != nil {
		return "", nil, err
	}
	if uint64(len(rest)) < n {
		return "", nil, fmt.Errorf("truncated string")
	}
	return string(rest[:n]), rest[n:], nil
}

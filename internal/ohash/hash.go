// Package ohash computes the 128-bit content hash used throughout oxen:
// object identity in the store, path-hash prefixes for the Merkle tree,
// and the commit-id hash. It is deliberately non-cryptographic — collisions
// are treated as data corruption, not an adversarial concern.
package ohash

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"sort"

	"github.com/zeebo/xxh3"
)

// Hash128 is a 128-bit content hash, rendered as 32 lowercase hex characters.
type Hash128 [16]byte

// Empty is the zero hash, used as a sentinel for "no parent" / "no tree".
var Empty Hash128

func (h Hash128) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash128) IsZero() bool {
	return h == Hash128{}
}

// Prefix returns the first n hex characters of the hash, used to bucket
// entries into VNodes.
func (h Hash128) Prefix(n int) string {
	s := hex.EncodeToString(h[:])
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// ParseHash128 parses a 32-character lowercase hex string into a Hash128.
func ParseHash128(s string) (Hash128, error) {
	var h Hash128
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != 16 {
		return h, errInvalidLength(len(b))
	}
	copy(h[:], b)
	return h, nil
}

type errInvalidLength int

func (e errInvalidLength) Error() string {
	return "ohash: invalid hash length"
}

func fromSum128(s xxh3.Uint128) Hash128 {
	var h Hash128
	binary.BigEndian.PutUint64(h[0:8], s.Hi)
	binary.BigEndian.PutUint64(h[8:16], s.Lo)
	return h
}

// HashBytes computes the content hash of a byte slice.
func HashBytes(data []byte) Hash128 {
	return fromSum128(xxh3.Hash128(data))
}

// HashStream computes the content hash of a reader, without buffering the
// whole input in memory. Used for large files that should not be fully
// read into memory just to compute their hash.
func HashStream(r io.Reader) (Hash128, error) {
	h := xxh3.New()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Hash128{}, err
		}
	}
	return fromSum128(h.Sum128()), nil
}

// HashPath computes the stable path hash used to bucket tree entries into
// VNodes. It uses the same content-hash function as file bytes, keyed by
// the normalized (forward-slash, repo-relative) path string.
func HashPath(path string) Hash128 {
	return HashBytes([]byte(path))
}

// CommitMeta carries the fields that are mixed into a commit's id (minus
// the id itself, which this function computes).
type CommitMeta struct {
	ParentIDs     []Hash128
	Message       string
	Author        string
	Email         string
	TimestampUnix int64
	RootTreeHash  Hash128
}

// HashCommit computes a commit's id by mixing its metadata with the sorted
// list of file content hashes that make up the commit's tree. Sorting the
// file hashes makes the commit id independent of traversal order while
// still changing whenever the tree's file content set changes.
func HashCommit(meta CommitMeta, fileHashes []Hash128) Hash128 {
	sorted := append([]Hash128(nil), fileHashes...)
	sort.Slice(sorted, func(i, j int) bool {
		return lessBytes(sorted[i][:], sorted[j][:])
	})

	var buf []byte
	for _, p := range meta.ParentIDs {
		buf = append(buf, p[:]...)
	}
	buf = append(buf, []byte(meta.Message)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(meta.Author)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(meta.Email)...)
	buf = append(buf, 0)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(meta.TimestampUnix))
	buf = append(buf, ts[:]...)
	buf = append(buf, meta.RootTreeHash[:]...)
	for _, fh := range sorted {
		buf = append(buf, fh[:]...)
	}
	return HashBytes(buf)
}

// ChildRef pairs a child's identity (its path, for a tree node; or any
// stable label) with its content hash, for HashChildren.
type ChildRef struct {
	Label string
	Hash  Hash128
}

// HashChildren mixes each child's hash with its label (full path for a
// VNode, path-hash prefix for a Dir) so identical content reachable via
// different paths hashes differently.
// Children must already be in their canonical sort order; HashChildren
// does not re-sort, since Dir/VNode ordering has different sort keys.
func HashChildren(children []ChildRef) Hash128 {
	var buf []byte
	for _, c := range children {
		buf = append(buf, []byte(c.Label)...)
		buf = append(buf, 0)
		buf = append(buf, c.Hash[:]...)
	}
	return HashBytes(buf)
}

func lessBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

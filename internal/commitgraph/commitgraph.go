// Package commitgraph implements the append-only commit DAG: commits
// keyed by id in a KV store, parents stored inline, history traversal
// by BFS over parent_ids.
package commitgraph

import (
	"encoding/binary"
	"fmt"

	"github.com/NahomAnteneh/oxen/internal/kvstore"
	"github.com/NahomAnteneh/oxen/internal/ohash"
)

// Commit records an id, its parent ids, message, author, timestamp, and
// root tree hash. It is immutable once written.
type Commit struct {
	ID            ohash.Hash128
	ParentIDs     []ohash.Hash128
	Message       string
	Author        string
	AuthorEmail   string
	TimestampUnix int64
	RootTreeHash  ohash.Hash128
}

// Graph is the commits KV, keyed by commit id.
type Graph struct {
	kv *kvstore.Store
}

// Open opens (or creates) the commits KV at path.
func Open(path string) (*Graph, error) {
	kv, err := kvstore.Open(path)
	if err != nil {
		return nil, err
	}
	return &Graph{kv: kv}, nil
}

// Close releases the underlying KV handle.
func (g *Graph) Close() error { return g.kv.Close() }

// Put writes a new commit. Commits are append-only: writing the same id
// twice is a no-op (content-addressed, never mutated).
func (g *Graph) Put(c *Commit) error {
	if _, ok, err := g.kv.Get(c.ID[:]); err != nil {
		return err
	} else if ok {
		return nil
	}
	return g.kv.Put(c.ID[:], encodeCommit(c))
}

// Get fetches a commit by id.
func (g *Graph) Get(id ohash.Hash128) (*Commit, bool, error) {
	data, ok, err := g.kv.Get(id[:])
	if err != nil || !ok {
		return nil, ok, err
	}
	c, err := decodeCommit(id, data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode commit %s: %w", id, err)
	}
	return c, true, nil
}

// Has reports whether commit id is present locally.
func (g *Graph) Has(id ohash.Hash128) (bool, error) {
	_, ok, err := g.kv.Get(id[:])
	return ok, err
}

// Ancestors performs a BFS over parent_ids starting at id, returning every
// reachable commit (including id itself) in visitation order. Used by
// history listing and by merge's LCA computation.
func (g *Graph) Ancestors(id ohash.Hash128) ([]*Commit, error) {
	seen := map[ohash.Hash128]bool{id: true}
	queue := []ohash.Hash128{id}
	var out []*Commit
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, ok, err := g.Get(cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, c)
		for _, p := range c.ParentIDs {
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return out, nil
}

// IsAncestor reports whether candidate is reachable from id by following
// parent pointers (used by the merger's fast-forward check: "HEAD is an
// ancestor of TARGET").
func (g *Graph) IsAncestor(candidate, id ohash.Hash128) (bool, error) {
	if candidate == id {
		return true, nil
	}
	seen := map[ohash.Hash128]bool{id: true}
	queue := []ohash.Hash128{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == candidate {
			return true, nil
		}
		c, ok, err := g.Get(cur)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		for _, p := range c.ParentIDs {
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// LowestCommonAncestor finds a common ancestor of a and b by BFS-ing
// both histories and returning the first commit reachable from a that is
// also reachable from b, preferring the one closest to both (shallowest
// combined BFS depth). Ties are broken by commit id for determinism.
func (g *Graph) LowestCommonAncestor(a, b ohash.Hash128) (ohash.Hash128, bool, error) {
	aAnc, err := g.Ancestors(a)
	if err != nil {
		return ohash.Hash128{}, false, err
	}
	// aAnc is in BFS order, so the first commit that names a parent fixes
	// that parent's BFS depth.
	dist := map[ohash.Hash128]int{a: 0}
	aDepth := make(map[ohash.Hash128]int, len(aAnc))
	for _, c := range aAnc {
		aDepth[c.ID] = dist[c.ID]
		for _, p := range c.ParentIDs {
			if _, ok := dist[p]; !ok {
				dist[p] = dist[c.ID] + 1
			}
		}
	}

	bSeen := map[ohash.Hash128]bool{b: true}
	queue := []ohash.Hash128{b}
	best := ohash.Hash128{}
	bestDepth := -1
	found := false
	for depth := 0; len(queue) > 0; depth++ {
		var next []ohash.Hash128
		for _, cur := range queue {
			if ad, ok := aDepth[cur]; ok {
				total := ad + depth
				if !found || total < bestDepth || (total == bestDepth && lessHash(cur, best)) {
					best = cur
					bestDepth = total
					found = true
				}
			}
			c, ok, err := g.Get(cur)
			if err != nil {
				return ohash.Hash128{}, false, err
			}
			if !ok {
				continue
			}
			for _, p := range c.ParentIDs {
				if !bSeen[p] {
					bSeen[p] = true
					next = append(next, p)
				}
			}
		}
		queue = next
	}
	return best, found, nil
}

func lessHash(a, b ohash.Hash128) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Missing returns the subset of ids not present locally, used by push to
// enumerate commits the remote needs.
func (g *Graph) Missing(ids []ohash.Hash128) ([]ohash.Hash128, error) {
	var out []ohash.Hash128
	for _, id := range ids {
		ok, err := g.Has(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// MissingFromRemote walks local history from localHead, stopping at the
// first commit already known by the remote (per hasRemote), and returns
// the missing commits in parent-first (oldest-first) order — the order
// push must upload them in.
func (g *Graph) MissingFromRemote(localHead ohash.Hash128, hasRemote func(ohash.Hash128) (bool, error)) ([]*Commit, error) {
	var missing []*Commit
	seen := map[ohash.Hash128]bool{}
	var walk func(id ohash.Hash128) error
	walk = func(id ohash.Hash128) error {
		if id.IsZero() || seen[id] {
			return nil
		}
		seen[id] = true
		present, err := hasRemote(id)
		if err != nil {
			return err
		}
		if present {
			return nil
		}
		c, ok, err := g.Get(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("commit %s not found locally", id)
		}
		for _, p := range c.ParentIDs {
			if err := walk(p); err != nil {
				return err
			}
		}
		missing = append(missing, c)
		return nil
	}
	if err := walk(localHead); err != nil {
		return nil, err
	}
	return missing, nil
}

func encodeCommit(c *Commit) []byte {
	var buf []byte
	// Parent order is preserved: for a merge commit, parent 0 is the
	// branch head before the merge and parent 1 is MERGE_HEAD.
	buf = appendUvarint(buf, uint64(len(c.ParentIDs)))
	for _, p := range c.ParentIDs {
		buf = append(buf, p[:]...)
	}
	buf = appendString(buf, c.Message)
	buf = appendString(buf, c.Author)
	buf = appendString(buf, c.AuthorEmail)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(c.TimestampUnix))
	buf = append(buf, ts[:]...)
	buf = append(buf, c.RootTreeHash[:]...)
	return buf
}

func decodeCommit(id ohash.Hash128, data []byte) (*Commit, error) {
	n, rest, err := readUvarint(data)
	if err != nil {
		return nil, err
	}
	c := &Commit{ID: id}
	for i := uint64(0); i < n; i++ {
		if len(rest) < 16 {
			return nil, fmt.Errorf("truncated commit parents")
		}
		var p ohash.Hash128
		copy(p[:], rest[:16])
		c.ParentIDs = append(c.ParentIDs, p)
		rest = rest[16:]
	}
	c.Message, rest, err = readString(rest)
	if err != nil {
		return nil, err
	}
	c.Author, rest, err = readString(rest)
	if err != nil {
		return nil, err
	}
	// AuthorEmail and the trailing fields are tolerated as absent (§9(c)
	// decode-time defaults) for a shorter/older encoding.
	if len(rest) == 0 {
		return c, nil
	}
	c.AuthorEmail, rest, err = readString(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < 8+16 {
		return c, nil
	}
	c.TimestampUnix = int64(binary.BigEndian.Uint64(rest[:8]))
	copy(c.RootTreeHash[:], rest[8:24])
	return c, nil
}

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

package optimistic

import "github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"

// chain is the history of one key, newest first, with strictly decreasing versions. Chains are copy on write: a
// chain value read from the store is never changed afterwards, so it can be inspected without holding any lock.
type chain[V mvcc.Value[V]] struct {
	entries []mvcc.Versioned[V]
	// created is the version which first wrote the key. It survives truncation, so a reader can tell a key created
	// after its snapshot from a key whose old versions were collected.
	created uint64
}

// at returns the newest entry visible at readVersion.
func (c chain[V]) at(readVersion uint64) (mvcc.Versioned[V], bool) {
	for _, e := range c.entries {
		if e.Version <= readVersion {
			return e, true
		}
	}
	return mvcc.Versioned[V]{}, false
}

func (c chain[V]) newest() mvcc.Versioned[V] {
	return c.entries[0]
}

func (c chain[V]) oldest() mvcc.Versioned[V] {
	return c.entries[len(c.entries)-1]
}

// push returns c with e in front.
func (c chain[V]) push(e mvcc.Versioned[V]) chain[V] {
	entries := make([]mvcc.Versioned[V], 0, len(c.entries)+1)
	entries = append(entries, e)
	c.entries = append(entries, c.entries...)
	return c
}

// truncate returns c cut down to depth entries, with the highest version and the number of entries it dropped.
func (c chain[V]) truncate(depth int) (chain[V], uint64, int) {
	if len(c.entries) <= depth {
		return c, 0, 0
	}
	var purged uint64
	for _, e := range c.entries[depth:] {
		if e.Version > purged {
			purged = e.Version
		}
	}
	dropped := len(c.entries) - depth
	c.entries = c.entries[:depth:depth]
	return c, purged, dropped
}

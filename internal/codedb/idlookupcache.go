package codedb

// lookupKeyer is implemented by interned string types.
type lookupKeyer interface {
	LookupKey() string
}

// IDLookupCache maps interned strings to their IDs for one accessor. It is
// not synchronized and is cleared whenever the accessor releases its lock,
// since IDs may be freed by a flush once the lock is gone.
type IDLookupCache[K lookupKeyer] struct {
	ids map[string]int
}

// NewIDLookupCache returns an empty cache.
func NewIDLookupCache[K lookupKeyer]() *IDLookupCache[K] {
	return &IDLookupCache[K]{ids: make(map[string]int)}
}

// Add records id for key. The empty key always maps to 0 and is never
// stored.
func (c *IDLookupCache[K]) Add(key K, id int) {
	k := key.LookupKey()
	if k == "" {
		return
	}
	c.ids[k] = id
}

// Contains reports whether key's ID is known. The empty key is always
// known.
func (c *IDLookupCache[K]) Contains(key K) bool {
	k := key.LookupKey()
	if k == "" {
		return true
	}
	_, ok := c.ids[k]
	return ok
}

// Get returns key's ID, or 0 for the empty key or an unknown key.
func (c *IDLookupCache[K]) Get(key K) int {
	return c.ids[key.LookupKey()]
}

// Remove forgets key.
func (c *IDLookupCache[K]) Remove(key K) {
	delete(c.ids, key.LookupKey())
}

// Len returns the number of cached keys.
func (c *IDLookupCache[K]) Len() int {
	return len(c.ids)
}

// Clear forgets everything.
func (c *IDLookupCache[K]) Clear() {
	clear(c.ids)
}

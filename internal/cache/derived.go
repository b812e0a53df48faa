package cache

import (
	"path/filepath"
	"sync"
	"sync/atomic"
)

// DerivedCache is the L2 cache of computed artifacts (extracted sections,
// candidate lists, relationship candidates, graph snapshots), keyed per
// hash of the upstream artifacts rather than of raw inputs. It tracks
// hit/miss counters per artifact type.
type DerivedCache struct {
	root string

	mu       sync.Mutex
	counters map[string]*typeCounter
}

type typeCounter struct {
	hits atomic.Int64
	miss atomic.Int64
}

// NewDerivedCache roots an L2 cache at dir; per-type subdirectories are
// created lazily on the first Get or Put for that type.
func NewDerivedCache(dir string) *DerivedCache {
	return &DerivedCache{root: dir, counters: make(map[string]*typeCounter)}
}

func (d *DerivedCache) counter(artifactType string) *typeCounter {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.counters[artifactType]
	if !ok {
		c = &typeCounter{}
		d.counters[artifactType] = c
	}
	return c
}

func (d *DerivedCache) storeFor(artifactType string) (*FileStore, error) {
	return NewFileStore(filepath.Join(d.root, artifactType))
}

// Get looks up the derived artifact keyed by the hashes of its source
// artifacts and the schema/prompt versions, unmarshaling into out. Returns
// ErrMiss on absence.
func (d *DerivedCache) Get(artifactType string, sourceArtifacts any, schemaVersion, promptVersion string, out any) error {
	store, err := d.storeFor(artifactType)
	if err != nil {
		return err
	}
	key := DerivedKey(artifactType, sourceArtifacts, schemaVersion, promptVersion)
	if err := GetJSON(store, key, out); err != nil {
		d.counter(artifactType).miss.Add(1)
		return err
	}
	d.counter(artifactType).hits.Add(1)
	return nil
}

// Put stores the derived artifact under its content-addressed key.
func (d *DerivedCache) Put(artifactType string, sourceArtifacts any, schemaVersion, promptVersion string, value any) error {
	store, err := d.storeFor(artifactType)
	if err != nil {
		return err
	}
	key := DerivedKey(artifactType, sourceArtifacts, schemaVersion, promptVersion)
	return PutJSON(store, key, value)
}

// Stats reports cumulative hit/miss counts for one artifact type.
func (d *DerivedCache) Stats(artifactType string) (hits, misses int64) {
	c := d.counter(artifactType)
	return c.hits.Load(), c.miss.Load()
}

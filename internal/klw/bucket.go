package klw

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// saveTimeout bounds a single background save.
const saveTimeout = 30 * time.Second

// Record is one assembled device entry in the bucket.
type Record struct {
	NID    string      `json:"nid"`
	OID    string      `json:"oid"`
	Data   Instruction `json:"data"`
	UID    string      `json:"uid"`
	Type   Category    `json:"type"`
	Detail *Detail     `json:"detail"`
}

// Clone returns a copy whose Detail can be modified freely.
func (r Record) Clone() Record {
	r.Detail = r.Detail.Clone()
	return r
}

// OID builds the composite key "nid.uid.category".
func OID(nid, uid string, c Category) string {
	return nid + "." + uid + "." + strconv.Itoa(int(c))
}

// Store persists the whole bucket.
type Store interface {
	Load(ctx context.Context) (map[string]Record, error)
	Save(ctx context.Context, records map[string]Record) error
}

// BucketOptions configures a Bucket.
type BucketOptions struct {
	// Store is the durable backend. Nil keeps the bucket in memory only.
	Store Store

	// Persist enables saving on persistence-worthy updates.
	Persist bool

	Logger Logger
}

// Bucket is the composite-keyed map of device records.
//
// Saves run on a background worker started by Start; a burst of updates
// coalesces into one save of the latest snapshot. Save failures are logged
// and the in-memory map stays authoritative.
type Bucket struct {
	store   Store
	persist bool
	logger  Logger

	mu      sync.RWMutex
	records map[string]Record

	saveCh  chan struct{}
	dirty   atomic.Bool
	started atomic.Bool
	done    *closeOnce
	wg      sync.WaitGroup
}

// NewBucket creates an empty bucket.
func NewBucket(opts BucketOptions) *Bucket {
	return &Bucket{
		store:   opts.Store,
		persist: opts.Persist && opts.Store != nil,
		logger:  orNop(opts.Logger),
		records: make(map[string]Record),
		saveCh:  make(chan struct{}, 1),
		done:    newCloseOnce(),
	}
}

// Load replaces the in-memory map with the store contents. A load failure
// leaves the bucket empty and is returned for the caller to log.
func (b *Bucket) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	records, err := b.store.Load(ctx)
	if err != nil {
		records = nil
	}
	if records == nil {
		records = make(map[string]Record)
	}

	b.mu.Lock()
	b.records = records
	b.mu.Unlock()
	return err
}

// Start launches the persistence worker.
func (b *Bucket) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	b.wg.Add(1)
	go b.saveLoop()
}

// Close stops the worker after flushing pending changes.
func (b *Bucket) Close() error {
	b.done.Close()
	b.wg.Wait()
	if b.dirty.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		return b.Flush(ctx)
	}
	return nil
}

// Get returns a copy of the record stored under oid.
func (b *Bucket) Get(oid string) (Record, bool) {
	b.mu.RLock()
	rec, ok := b.records[oid]
	b.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Detail returns the stored detail under oid, or nil. The result must not
// be modified.
func (b *Bucket) Detail(oid string) *Detail {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if rec, ok := b.records[oid]; ok {
		return rec.Detail
	}
	return nil
}

// Records returns copies of all records ordered by oid.
func (b *Bucket) Records() []Record {
	return b.ByPrefix("")
}

// ByPrefix returns copies of the records whose oid starts with prefix,
// ordered by oid.
func (b *Bucket) ByPrefix(prefix string) []Record {
	b.mu.RLock()
	out := make([]Record, 0, len(b.records))
	for oid, rec := range b.records {
		if strings.HasPrefix(oid, prefix) {
			out = append(out, rec.Clone())
		}
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OID < out[j].OID })
	return out
}

// Len returns the number of records.
func (b *Bucket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Put stores rec under rec.OID. persist marks the update as worth saving.
func (b *Bucket) Put(rec Record, persist bool) {
	b.mu.Lock()
	b.records[rec.OID] = rec
	b.mu.Unlock()

	if persist {
		b.requestSave()
	}
}

// Delete removes one record.
func (b *Bucket) Delete(oid string, persist bool) {
	b.mu.Lock()
	delete(b.records, oid)
	b.mu.Unlock()

	if persist {
		b.requestSave()
	}
}

// DeleteByPrefix removes every record whose oid starts with prefix and
// returns how many were removed.
func (b *Bucket) DeleteByPrefix(prefix string, persist bool) int {
	b.mu.Lock()
	n := 0
	for oid := range b.records {
		if strings.HasPrefix(oid, prefix) {
			delete(b.records, oid)
			n++
		}
	}
	b.mu.Unlock()

	if persist && n > 0 {
		b.requestSave()
	}
	return n
}

// Clear removes every record and persists the empty map.
func (b *Bucket) Clear() {
	b.mu.Lock()
	b.records = make(map[string]Record)
	b.mu.Unlock()
	b.requestSave()
}

// Flush saves the current snapshot synchronously.
func (b *Bucket) Flush(ctx context.Context) error {
	if !b.persist {
		return nil
	}
	b.dirty.Store(false)
	if err := b.store.Save(ctx, b.snapshot()); err != nil {
		b.dirty.Store(true)
		return err
	}
	return nil
}

func (b *Bucket) snapshot() map[string]Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Record, len(b.records))
	for k, v := range b.records {
		out[k] = v
	}
	return out
}

func (b *Bucket) requestSave() {
	if !b.persist {
		return
	}
	b.dirty.Store(true)
	select {
	case b.saveCh <- struct{}{}:
	default:
		// a save is already pending and will pick up this change
	}
}

func (b *Bucket) saveLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done.Done():
			return
		case <-b.saveCh:
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			if err := b.Flush(ctx); err != nil {
				b.logger.Error("saving device bucket failed", "error", err)
			}
			cancel()
		}
	}
}

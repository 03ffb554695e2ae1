// Package bufferpool implements the LRU-K buffer pool manager: a fixed
// array of frames fronting a disk manager, page guards for safe pinned
// access, and an LRU-K replacement policy. Structurally grounded on
// darleet-GraphDB's src/bufferpool/bufferpool.go (fast/slow-path
// double-checked locking, frame table, free list) with the replacement
// policy and pick_frame ordering replaced by LRU-K per
// original_source/.../buffer_pool_manager.cpp.
package bufferpool

import (
	"context"
	"sync"

	"github.com/panjf2000/ants"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/darleet/coredb/internal/common"
	"github.com/darleet/coredb/internal/diskio"
	"github.com/darleet/coredb/internal/errs"
	"github.com/darleet/coredb/pkg/assert"
)

const noFrame = ^common.FrameID(0)

// frame is one slot of the fixed-size pool.
type frame struct {
	data     [common.PageSize]byte
	ident    common.PageIdentity
	pinCount int
	dirty    bool
	valid    bool
}

// Metrics bundles the otel instruments the pool reports through; all are
// optional (nil-safe) so tests can construct a Manager without a meter
// provider wired up.
type Metrics struct {
	Hits    metric.Int64Counter
	Misses  metric.Int64Counter
	Evicts  metric.Int64Counter
}

// NewMetrics builds Metrics from an otel meter, matching the
// domain-stack wiring called for by SPEC_FULL.md: instruments are
// registered with the no-op global meter when the caller has not
// installed a real provider, so this is safe to call unconditionally.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	hits, err := meter.Int64Counter("bufferpool.hits")
	if err != nil {
		return nil, errs.Wrap(err, "register hits counter")
	}

	misses, err := meter.Int64Counter("bufferpool.misses")
	if err != nil {
		return nil, errs.Wrap(err, "register misses counter")
	}

	evicts, err := meter.Int64Counter("bufferpool.evictions")
	if err != nil {
		return nil, errs.Wrap(err, "register evictions counter")
	}

	return &Metrics{Hits: hits, Misses: misses, Evicts: evicts}, nil
}

// Manager is the fixed-capacity LRU-K buffer pool: the only component that
// ever reads or writes page bytes from disk.
type Manager struct {
	disk     *diskio.Manager
	replacer *LRUKReplacer

	frames      []frame
	pageToFrame map[common.PageIdentity]common.FrameID
	emptyFrames []common.FrameID

	faultGroup singleflight.Group
	flushPool  *ants.Pool

	fastPath sync.Mutex
	slowPath sync.Mutex

	metrics *Metrics
}

// New builds a Manager with poolSize frames, evicting via LRU-K with
// history depth k.
func New(poolSize int, k int, disk *diskio.Manager, metrics *Metrics) (*Manager, error) {
	assert.Assert(poolSize > 0, "pool size must be greater than zero")

	empty := make([]common.FrameID, poolSize)
	for i := range empty {
		empty[i] = common.FrameID(i)
	}

	flushPool, err := ants.NewPool(min(poolSize, 8))
	if err != nil {
		return nil, errs.Wrap(err, "create flush worker pool")
	}

	return &Manager{
		disk:        disk,
		replacer:    NewLRUKReplacer(poolSize, k),
		frames:      make([]frame, poolSize),
		pageToFrame: make(map[common.PageIdentity]common.FrameID),
		emptyFrames: empty,
		flushPool:   flushPool,
		metrics:     metrics,
	}, nil
}

func (m *Manager) countHit() {
	if m.metrics != nil && m.metrics.Hits != nil {
		m.metrics.Hits.Add(context.Background(), 1)
	}
}

func (m *Manager) countMiss() {
	if m.metrics != nil && m.metrics.Misses != nil {
		m.metrics.Misses.Add(context.Background(), 1)
	}
}

func (m *Manager) countEvict() {
	if m.metrics != nil && m.metrics.Evicts != nil {
		m.metrics.Evicts.Add(context.Background(), 1)
	}
}

// pin increments the frame's pin count and informs the replacer the frame
// must not be evicted while pinned. Caller must hold fastPath. RecordAccess
// runs first so a never-before-seen frameID has tracking state by the time
// SetEvictable looks it up.
func (m *Manager) pin(frameID common.FrameID) error {
	m.frames[frameID].pinCount++
	m.replacer.RecordAccess(frameID)
	return m.replacer.SetEvictable(frameID, false)
}

// Unpin decrements the pin count for ident, marking it dirty if isDirty is
// set. Once the pin count reaches zero the frame becomes eligible for
// eviction.
func (m *Manager) Unpin(ident common.PageIdentity, isDirty bool) error {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	frameID, ok := m.pageToFrame[ident]
	if !ok {
		return errs.Wrap(errs.ErrPageNotFound, "unpin")
	}

	f := &m.frames[frameID]
	assert.Assert(f.pinCount > 0, "unpin called with zero pin count")

	if isDirty {
		f.dirty = true
	}

	f.pinCount--
	if f.pinCount == 0 {
		if err := m.replacer.SetEvictable(frameID, true); err != nil {
			return errs.Wrap(err, "unpin")
		}
	}

	return nil
}

// pickFrame finds a frame to host a new page: the free list first, then an
// LRU-K victim, flushing it first if dirty. Mirrors
// HasReplacementFrame/pick_frame in original_source/.../buffer_pool_manager.cpp.
// Caller must hold fastPath.
func (m *Manager) pickFrame() (common.FrameID, error) {
	if len(m.emptyFrames) > 0 {
		id := m.emptyFrames[len(m.emptyFrames)-1]
		m.emptyFrames = m.emptyFrames[:len(m.emptyFrames)-1]
		return id, nil
	}

	victim, ok := m.replacer.Evict()
	if !ok {
		return noFrame, errs.ErrNoFreeFrames
	}
	m.countEvict()

	vf := &m.frames[victim]
	if vf.valid && vf.dirty {
		if err := m.disk.WritePage(vf.ident, vf.data[:]); err != nil {
			return noFrame, errs.Wrap(err, "flush victim before reuse")
		}
	}

	if vf.valid {
		delete(m.pageToFrame, vf.ident)
	}

	*vf = frame{}

	return victim, nil
}

// FetchPage loads ident into a pinned frame, reading it from disk if it is
// not already resident. Concurrent faults for the same identity are
// collapsed via singleflight so only one goroutine touches the disk
// manager.
func (m *Manager) FetchPage(ident common.PageIdentity) (*[common.PageSize]byte, error) {
	m.fastPath.Lock()
	if frameID, ok := m.pageToFrame[ident]; ok {
		pinErr := m.pin(frameID)
		m.fastPath.Unlock()
		if pinErr != nil {
			return nil, errs.Wrap(pinErr, "pin fetched page")
		}
		m.countHit()

		return &m.frames[frameID].data, nil
	}
	m.fastPath.Unlock()
	m.countMiss()

	pinnedByLeader := false
	_, err, _ := m.faultGroup.Do(identKey(ident), func() (any, error) {
		m.slowPath.Lock()
		defer m.slowPath.Unlock()

		m.fastPath.Lock()
		if _, ok := m.pageToFrame[ident]; ok {
			m.fastPath.Unlock()
			return nil, nil
		}

		frameID, pickErr := m.pickFrame()
		if pickErr != nil {
			m.fastPath.Unlock()
			return nil, pickErr
		}

		f := &m.frames[frameID]
		f.ident = ident
		f.valid = true
		m.pageToFrame[ident] = frameID
		pinErr := m.pin(frameID)
		pinnedByLeader = true
		m.fastPath.Unlock()
		if pinErr != nil {
			return nil, errs.Wrap(pinErr, "pin faulted-in page")
		}

		if readErr := m.disk.ReadPage(ident, f.data[:]); readErr != nil {
			return nil, errs.Wrap(readErr, "fetch page from disk")
		}

		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	m.fastPath.Lock()
	frameID := m.pageToFrame[ident]
	var pinErr error
	if !pinnedByLeader {
		pinErr = m.pin(frameID)
	}
	data := &m.frames[frameID].data
	m.fastPath.Unlock()
	if pinErr != nil {
		return nil, errs.Wrap(pinErr, "pin page after fault")
	}

	return data, nil
}

// NewPage allocates a fresh page in file fileID, zeroes it, and returns it
// pinned.
func (m *Manager) NewPage(fileID common.FileID) (common.PageIdentity, *[common.PageSize]byte, error) {
	m.fastPath.Lock()
	pageID, err := m.disk.AllocateNextPageID(fileID)
	if err != nil {
		m.fastPath.Unlock()
		return common.PageIdentity{}, nil, err
	}
	ident := common.PageIdentity{FileID: fileID, PageID: pageID}

	if err := m.disk.WritePage(ident, make([]byte, common.PageSize)); err != nil {
		m.fastPath.Unlock()
		return common.PageIdentity{}, nil, errs.Wrap(err, "reserve new page on disk")
	}

	frameID, err := m.pickFrame()
	if err != nil {
		m.fastPath.Unlock()
		return common.PageIdentity{}, nil, err
	}

	f := &m.frames[frameID]
	f.ident = ident
	f.valid = true
	f.dirty = true
	m.pageToFrame[ident] = frameID
	pinErr := m.pin(frameID)
	data := &f.data
	m.fastPath.Unlock()
	if pinErr != nil {
		return common.PageIdentity{}, nil, errs.Wrap(pinErr, "pin new page")
	}

	return ident, data, nil
}

// FlushPage writes ident back to disk if dirty.
func (m *Manager) FlushPage(ident common.PageIdentity) error {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	frameID, ok := m.pageToFrame[ident]
	if !ok {
		return errs.Wrap(errs.ErrPageNotFound, "flush")
	}

	f := &m.frames[frameID]
	if !f.dirty {
		return nil
	}

	if err := m.disk.WritePage(ident, f.data[:]); err != nil {
		return errs.Wrap(err, "flush page")
	}
	f.dirty = false

	return nil
}

// FlushAllPages writes every dirty frame back to disk, fanning the work out
// across a bounded ants worker pool since flushes are independent once the
// frame table has been snapshotted.
func (m *Manager) FlushAllPages() error {
	m.fastPath.Lock()
	dirty := make([]common.PageIdentity, 0, len(m.pageToFrame))
	for ident, frameID := range m.pageToFrame {
		if m.frames[frameID].dirty {
			dirty = append(dirty, ident)
		}
	}
	m.fastPath.Unlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(dirty))

	for _, ident := range dirty {
		ident := ident
		wg.Add(1)
		submitErr := m.flushPool.Submit(func() {
			defer wg.Done()
			if err := m.FlushPage(ident); err != nil {
				errCh <- err
			}
		})
		if submitErr != nil {
			wg.Done()
			if err := m.FlushPage(ident); err != nil {
				errCh <- err
			}
		}
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}

	return nil
}

// DeletePage frees ident's frame, failing if it is still pinned. A dirty
// frame is flushed before its slot is reclaimed, and the disk manager is
// told to release the page's on-disk storage.
func (m *Manager) DeletePage(ident common.PageIdentity) error {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	frameID, ok := m.pageToFrame[ident]
	if !ok {
		return nil
	}

	f := &m.frames[frameID]
	if f.pinCount > 0 {
		return errs.ErrPagePinned
	}

	if f.dirty {
		if err := m.disk.WritePage(ident, f.data[:]); err != nil {
			return errs.Wrap(err, "flush page before delete")
		}
	}

	if err := m.replacer.Remove(frameID); err != nil {
		return errs.Wrap(err, "remove frame from replacer")
	}

	if err := m.disk.DeallocatePage(ident); err != nil {
		return errs.Wrap(err, "deallocate page on disk")
	}

	delete(m.pageToFrame, ident)
	*f = frame{}
	m.emptyFrames = append(m.emptyFrames, frameID)

	return nil
}

func identKey(ident common.PageIdentity) string {
	b, _ := ident.MarshalBinary()
	return string(b)
}

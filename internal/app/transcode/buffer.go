package transcode

import "sync"

// Buffer is a bounded FIFO of encoded bytes addressed by absolute offsets.
// The oldest bytes are evicted once the capacity is reached. Readers follow
// the live edge through Changed.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	start  int64 // absolute offset of the oldest byte kept
	end    int64 // absolute offset after the newest byte
	notify chan struct{}
	closed bool
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		data:   make([]byte, capacity),
		notify: make(chan struct{}),
	}
}

// CapacityFor is bitrate_kbps*1024*seconds/8.
func CapacityFor(bitrateKbps, seconds int) int {
	return bitrateKbps * 1024 * seconds / 8
}

func (b *Buffer) Cap() int { return len(b.data) }

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.end - b.start)
}

// Write appends p, evicting from the front. Writes after Close are ignored.
func (b *Buffer) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	size := int64(len(b.data))
	if int64(len(p)) > size {
		b.end += int64(len(p)) - size
		p = p[len(p)-int(size):]
	}
	for len(p) > 0 {
		i := int(b.end % size)
		n := copy(b.data[i:], p)
		p = p[n:]
		b.end += int64(n)
	}
	if b.end-b.start > size {
		b.start = b.end - size
	}
	close(b.notify)
	b.notify = make(chan struct{})
}

// Snapshot copies the current contents and returns the offset right after them.
func (b *Buffer) Snapshot() ([]byte, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyLocked(b.start), b.end
}

// ReadFrom copies everything written since off. A reader that fell behind the
// eviction point resumes from the oldest kept byte.
func (b *Buffer) ReadFrom(off int64) (data []byte, next int64, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if off < b.start {
		off = b.start
	}
	if off > b.end {
		off = b.end
	}
	return b.copyLocked(off), b.end, b.closed
}

func (b *Buffer) copyLocked(from int64) []byte {
	n := int(b.end - from)
	out := make([]byte, n)
	size := int64(len(b.data))
	for copied := 0; copied < n; {
		i := int((from + int64(copied)) % size)
		copied += copy(out[copied:], b.data[i:min(len(b.data), i+n-copied)])
	}
	return out
}

// Changed is closed on the next Write or on Close. Take it before ReadFrom.
func (b *Buffer) Changed() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.notify
}

// Close wakes every reader; subsequent ReadFrom calls report closed.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

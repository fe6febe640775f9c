package relay

import "sync"

type bufferedFrame struct {
	seq uint64
	raw []byte
}

// frameBuffer keeps the most recent frames of the current publisher run for
// replay to new viewers. A frame with seq 1 marks a publisher restart and
// discards everything buffered before it; frames at or below the last
// buffered seq are duplicates and are skipped. Seq 0 frames are unordered and
// always kept.
type frameBuffer struct {
	mu      sync.Mutex
	limit   int
	frames  []bufferedFrame
	lastSeq uint64
}

func newFrameBuffer(limit int) *frameBuffer {
	if limit <= 0 {
		limit = 64
	}
	return &frameBuffer{limit: limit}
}

func (b *frameBuffer) Add(seq uint64, raw []byte) {
	if b == nil || len(raw) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case seq == 1:
		b.frames = b.frames[:0]
		b.lastSeq = 1
	case seq != 0 && seq <= b.lastSeq:
		return
	case seq != 0:
		b.lastSeq = seq
	}

	if len(b.frames) == b.limit {
		n := copy(b.frames, b.frames[1:])
		b.frames = b.frames[:n]
	}
	b.frames = append(b.frames, bufferedFrame{seq: seq, raw: append([]byte(nil), raw...)})
}

// Snapshot returns copies of the buffered frames, oldest first.
func (b *frameBuffer) Snapshot() [][]byte {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.frames))
	for i, f := range b.frames {
		out[i] = append([]byte(nil), f.raw...)
	}
	return out
}

func (b *frameBuffer) LastSeq() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeq
}

func (b *frameBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

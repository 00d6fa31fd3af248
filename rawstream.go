package evsync

import "errors"

// EventSource yields raw kernel events in read order. *Device implements
// it; tests substitute scripted sources.
type EventSource interface {
	ReadEvents() ([]RawEvent, error)
	Close() error
}

// batcher groups a raw event feed into batches. Events accumulate until a
// SYN_REPORT closes the group. A SYN_DROPPED poisons the group in progress:
// everything up to and including the next SYN_REPORT is discarded and a
// single Dropped batch is produced in its place.
//
// ErrWouldBlock from the source passes through without disturbing the
// partially accumulated batch, so blocking and non-blocking reads share the
// same grouping logic.
type batcher struct {
	src     EventSource
	queue   []RawEvent
	pending []Event
	dropped bool
}

func (b *batcher) next() (*Batch, error) {
	for {
		if len(b.queue) == 0 {
			raw, err := b.src.ReadEvents()
			if err != nil {
				return nil, err
			}
			b.queue = raw
			continue
		}

		ev := wrapEvent(b.queue[0])
		b.queue = b.queue[1:]

		sync, isSync := ev.(SyncEvent)
		switch {
		case isSync && sync.IsDropped():
			// The batch in progress is partial; it dies with the
			// dropped events.
			b.dropped = true
			b.pending = nil
		case isSync && sync.IsReport():
			if b.dropped {
				b.dropped = false
				return &Batch{Dropped: true}, nil
			}
			events := append(b.pending, ev)
			b.pending = nil
			return &Batch{Events: events}, nil
		default:
			if !b.dropped {
				b.pending = append(b.pending, ev)
			}
		}
	}
}

// RawStream exposes a device's batches exactly as the kernel produced
// them, overflow markers included, with no caching or synthesis. For
// callers that implement their own consistency policy or only care about
// discrete events.
type RawStream struct {
	b   batcher
	err error
}

// NewRawStream wraps an open device. The stream takes ownership of the
// device's event buffer; Close closes the device.
func NewRawStream(d *Device) *RawStream {
	return newRawStream(d)
}

func newRawStream(src EventSource) *RawStream {
	return &RawStream{b: batcher{src: src}}
}

// Next returns the next batch in source order. Batches with Dropped set
// mark kernel buffer overflows. ErrWouldBlock is returned in non-blocking
// mode when no complete batch is available yet; any other error is
// terminal and repeats on subsequent calls.
func (s *RawStream) Next() (*Batch, error) {
	if s.err != nil {
		return nil, s.err
	}
	batch, err := s.b.next()
	if err != nil {
		if !errors.Is(err, ErrWouldBlock) {
			s.err = err
		}
		return nil, err
	}
	return batch, nil
}

// Close ends the stream and closes the underlying source.
func (s *RawStream) Close() error {
	if s.err == nil {
		s.err = ErrClosed
	}
	return s.b.src.Close()
}

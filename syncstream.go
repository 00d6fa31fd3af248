package evsync

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// StateQuerier answers point-in-time state queries against the device,
// bypassing the event queue. *Device implements it.
type StateQuerier interface {
	QueryState() (*DeviceState, error)
}

// SyncStream turns a possibly-lossy raw batch sequence into a logically
// gap-free one. Normal batches are applied to an internal state cache and
// forwarded unchanged. When the kernel reports an overflow the stream
// re-queries true device state and yields one synthetic batch containing
// exactly the events needed to close the gap, so consumers that trust the
// cache never observe an inconsistent picture of the hardware.
//
// Consumers that count individual toggles are explicitly not served
// correctly across an overflow: dropped events can never be recovered, only
// their net effect.
//
// A SyncStream is driven by a single consumer; Next must not be called
// concurrently.
type SyncStream struct {
	b       batcher
	querier StateQuerier
	caps    *Capabilities
	state   *DeviceState
	log     *zerolog.Logger

	resyncs uint64
	err     error
}

// NewSyncStream wraps an open device and performs the cold-start state
// query that seeds the cache. The stream takes ownership of the device's
// event buffer; Close closes the device.
func NewSyncStream(d *Device) (*SyncStream, error) {
	return newSyncStream(d, d, d.caps, d.log)
}

func newSyncStream(src EventSource, q StateQuerier, caps *Capabilities, logger *zerolog.Logger) (*SyncStream, error) {
	if logger == nil {
		l := defaultLogger
		logger = &l
	}
	state, err := q.QueryState()
	if err != nil {
		return nil, fmt.Errorf("initial state query: %w", err)
	}
	return &SyncStream{
		b:       batcher{src: src},
		querier: q,
		caps:    caps,
		state:   state,
		log:     logger,
	}, nil
}

// Next returns the next batch. Real batches arrive in source order with
// the cache already updated; an overflow is replaced (never followed) by
// exactly one synthetic batch. ErrWouldBlock is non-fatal in non-blocking
// mode. Any other error is terminal: the stream cannot serve a cache it no
// longer trusts, and subsequent calls repeat the error.
func (s *SyncStream) Next() (*Batch, error) {
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
	if batch.Dropped {
		return s.resync()
	}
	for _, ev := range batch.Events {
		s.state.apply(ev)
	}
	return batch, nil
}

// resync rebuilds the cache from a fresh state query and synthesizes the
// batch that transforms the stale snapshot into it.
func (s *SyncStream) resync() (*Batch, error) {
	s.log.Warn().Msg("Kernel dropped events, resynchronizing device state")

	old := s.state.clone()
	fresh, err := s.querier.QueryState()
	if err != nil {
		// The one source of truth is unreachable; the device is
		// presumed gone regardless of the underlying errno.
		if !errors.Is(err, ErrDeviceGone) {
			err = fmt.Errorf("%w: %w", ErrDeviceGone, err)
		}
		s.err = fmt.Errorf("resync state query: %w", err)
		s.log.Error().Err(err).Msg("Resynchronization failed, stream terminated")
		return nil, s.err
	}
	s.state = fresh
	s.resyncs++

	batch := diffStates(old, fresh)
	s.log.Debug().
		Int("synthetic_events", len(batch.Events)-1).
		Uint64("resyncs", s.resyncs).
		Msg("Resynchronized device state")
	return batch, nil
}

// Close ends the stream and closes the underlying source.
func (s *SyncStream) Close() error {
	if s.err == nil {
		s.err = ErrClosed
	}
	return s.b.src.Close()
}

// Resyncs returns how many overflows the stream has recovered from.
func (s *SyncStream) Resyncs() uint64 { return s.resyncs }

// Capabilities returns the static capability description of the underlying
// device.
func (s *SyncStream) Capabilities() *Capabilities { return s.caps }

// PressedKeys returns the cache's currently pressed key codes.
func (s *SyncStream) PressedKeys() []uint16 { return s.state.PressedKeys() }

// KeyPressed reports whether the cache holds the key as pressed.
func (s *SyncStream) KeyPressed(code uint16) bool { return s.state.KeyPressed(code) }

// LitLEDs returns the cache's currently lit LED codes.
func (s *SyncStream) LitLEDs() []uint16 { return s.state.LitLEDs() }

// ActiveSwitches returns the cache's currently active switch codes.
func (s *SyncStream) ActiveSwitches() []uint16 { return s.state.ActiveSwitches() }

// AbsValue returns the cached value and calibration of an absolute axis.
func (s *SyncStream) AbsValue(code uint16) (AbsInfo, bool) { return s.state.AbsValue(code) }

// AbsValues returns a copy of every cached absolute axis.
func (s *SyncStream) AbsValues() map[uint16]AbsInfo { return s.state.AbsValues() }

// SelectedSlot returns the cached multitouch slot selection.
func (s *SyncStream) SelectedSlot() int { return s.state.SelectedSlot() }

// SlotValue returns the cached value of a slot-scoped code.
func (s *SyncStream) SlotValue(slot int, code uint16) (int32, bool) {
	return s.state.SlotValue(slot, code)
}

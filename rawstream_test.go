package evsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptSource replays canned read results: each step is either a slice of
// raw events or an error, exactly as Device.ReadEvents would return them.
// Exhausted sources report ErrClosed.
type scriptSource struct {
	steps  []scriptStep
	closed bool
}

type scriptStep struct {
	events []RawEvent
	err    error
}

func events(evs ...RawEvent) scriptStep { return scriptStep{events: evs} }
func fails(err error) scriptStep        { return scriptStep{err: err} }

func (s *scriptSource) ReadEvents() ([]RawEvent, error) {
	if len(s.steps) == 0 {
		return nil, ErrClosed
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	return step.events, nil
}

func (s *scriptSource) Close() error {
	s.closed = true
	return nil
}

func rawKey(code uint16, value int32) RawEvent {
	return RawEvent{Type: uint16(EvKey), Code: code, Value: value}
}

func rawAbs(code uint16, value int32) RawEvent {
	return RawEvent{Type: uint16(EvAbs), Code: code, Value: value}
}

func rawSyn(code uint16) RawEvent {
	return RawEvent{Type: uint16(EvSyn), Code: code}
}

func TestRawStreamBatching(t *testing.T) {
	src := &scriptSource{steps: []scriptStep{
		events(rawKey(keyA, 1), rawSyn(SynReport), rawKey(keyA, 0)),
		events(rawSyn(SynReport)),
	}}
	s := newRawStream(src)

	b1, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, [][3]int32{
		{int32(EvKey), keyA, 1},
		{int32(EvSyn), int32(SynReport), 0},
	}, eventTuples(b1))

	// The second batch straddles two reads.
	b2, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, [][3]int32{
		{int32(EvKey), keyA, 0},
		{int32(EvSyn), int32(SynReport), 0},
	}, eventTuples(b2))
}

func TestRawStreamOverflowMarkerPassesThrough(t *testing.T) {
	// The partial batch before SYN_DROPPED and the stale events after it
	// die with the overflow; one Dropped batch stands in for all of it.
	src := &scriptSource{steps: []scriptStep{
		events(
			rawKey(keyA, 1),
			rawSyn(SynDropped),
			rawKey(keyS, 1),
			rawSyn(SynReport),
			rawKey(keyS, 0),
			rawSyn(SynReport),
		),
	}}
	s := newRawStream(src)

	b, err := s.Next()
	require.NoError(t, err)
	assert.True(t, b.Dropped)
	assert.Empty(t, b.Events)

	b, err = s.Next()
	require.NoError(t, err)
	assert.False(t, b.Dropped)
	assert.Equal(t, [][3]int32{
		{int32(EvKey), keyS, 0},
		{int32(EvSyn), int32(SynReport), 0},
	}, eventTuples(b))
}

func TestRawStreamWouldBlockKeepsPartialBatch(t *testing.T) {
	src := &scriptSource{steps: []scriptStep{
		events(rawKey(keyA, 1)),
		fails(ErrWouldBlock),
		events(rawAbs(AbsX, 3), rawSyn(SynReport)),
	}}
	s := newRawStream(src)

	_, err := s.Next()
	require.ErrorIs(t, err, ErrWouldBlock)

	// The partially accumulated batch survives the would-block round.
	b, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, [][3]int32{
		{int32(EvKey), keyA, 1},
		{int32(EvAbs), int32(AbsX), 3},
		{int32(EvSyn), int32(SynReport), 0},
	}, eventTuples(b))

	// Exhaustion is terminal.
	_, err = s.Next()
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.Next()
	require.ErrorIs(t, err, ErrClosed)
}

func TestRawStreamFatalErrorSticks(t *testing.T) {
	src := &scriptSource{steps: []scriptStep{
		fails(mapIOError("read events", errDeviceUnplugged())),
	}}
	s := newRawStream(src)

	_, err := s.Next()
	require.ErrorIs(t, err, ErrDeviceGone)
	_, err = s.Next()
	require.ErrorIs(t, err, ErrDeviceGone)
}

func TestRawStreamCloseClosesSource(t *testing.T) {
	src := &scriptSource{steps: []scriptStep{
		events(rawKey(keyA, 1), rawSyn(SynReport)),
	}}
	s := newRawStream(src)

	require.NoError(t, s.Close())
	assert.True(t, src.closed)

	_, err := s.Next()
	require.ErrorIs(t, err, ErrClosed)
}

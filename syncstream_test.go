package evsync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQuerier serves canned state snapshots: one for the cold start, then
// one per resynchronization.
type fakeQuerier struct {
	states []*DeviceState
	err    error
	calls  int
}

func (q *fakeQuerier) QueryState() (*DeviceState, error) {
	q.calls++
	if len(q.states) == 0 {
		if q.err != nil {
			return nil, q.err
		}
		return nil, errors.New("no snapshot scripted")
	}
	s := q.states[0]
	q.states = q.states[1:]
	return s, nil
}

func newTestSyncStream(t *testing.T, caps *Capabilities, src EventSource, q StateQuerier) *SyncStream {
	t.Helper()
	s, err := newSyncStream(src, q, caps, nil)
	require.NoError(t, err)
	return s
}

func TestSyncStreamPressReleaseNoOverflow(t *testing.T) {
	caps := testCaps()
	src := &scriptSource{steps: []scriptStep{
		events(rawKey(keyA, 1), rawSyn(SynReport)),
		events(rawKey(keyA, 0), rawSyn(SynReport)),
	}}
	s := newTestSyncStream(t, caps, src, &fakeQuerier{states: []*DeviceState{newDeviceState(caps)}})

	b1, err := s.Next()
	require.NoError(t, err)
	require.Len(t, b1.Events, 2)
	assert.Equal(t, []uint16{keyA}, s.PressedKeys())

	b2, err := s.Next()
	require.NoError(t, err)
	require.Len(t, b2.Events, 2)
	assert.Empty(t, s.PressedKeys())

	assert.Zero(t, s.Resyncs())
}

func TestSyncStreamOverflowReplacedBySyntheticBatch(t *testing.T) {
	caps := testCaps()
	src := &scriptSource{steps: []scriptStep{
		events(rawKey(keyA, 1), rawSyn(SynReport)),
		events(rawSyn(SynDropped), rawSyn(SynReport)),
	}}
	q := &fakeQuerier{states: []*DeviceState{
		newDeviceState(caps),
		stateOf(caps, NewEvent(EvKey, keyS, 1)),
	}}
	s := newTestSyncStream(t, caps, src, q)

	_, err := s.Next()
	require.NoError(t, err)
	require.Equal(t, []uint16{keyA}, s.PressedKeys())

	// The overflow is replaced, not followed, by one synthetic batch:
	// release of the stale key, press of the new one, terminator.
	b, err := s.Next()
	require.NoError(t, err)
	assert.False(t, b.Dropped)
	assert.Equal(t, [][3]int32{
		{int32(EvKey), keyA, 0},
		{int32(EvKey), keyS, 1},
		{int32(EvSyn), int32(SynReport), 0},
	}, eventTuples(b))

	assert.Equal(t, []uint16{keyS}, s.PressedKeys())
	assert.Equal(t, uint64(1), s.Resyncs())
}

func TestSyncStreamOverflowAxisResync(t *testing.T) {
	caps := testCaps()
	src := &scriptSource{steps: []scriptStep{
		events(rawSyn(SynDropped), rawSyn(SynReport)),
	}}
	q := &fakeQuerier{states: []*DeviceState{
		stateOf(caps, NewEvent(EvAbs, AbsX, 512)),
		stateOf(caps, NewEvent(EvAbs, AbsX, 600)),
	}}
	s := newTestSyncStream(t, caps, src, q)

	b, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, [][3]int32{
		{int32(EvAbs), int32(AbsX), 600},
		{int32(EvSyn), int32(SynReport), 0},
	}, eventTuples(b))

	info, ok := s.AbsValue(AbsX)
	require.True(t, ok)
	assert.Equal(t, int32(600), info.Value)
}

func TestSyncStreamOverflowRecovery(t *testing.T) {
	// For any cache A and queried state B, one synthetic batch is
	// emitted and the cache ends exactly at B.
	caps := testCapsMT(2)
	a := stateOf(caps,
		NewEvent(EvKey, keyA, 1),
		NewEvent(EvAbs, AbsX, 100),
		NewEvent(EvAbs, AbsMtSlot, 1),
		NewEvent(EvAbs, absMtTrackingID, 4),
	)
	// Queried snapshots are dense: every supported slot-scoped code has a
	// value in every slot.
	b := stateOf(caps,
		NewEvent(EvKey, keyS, 1),
		NewEvent(EvAbs, AbsX, 900),
		NewEvent(EvSw, swLid, 1),
		NewEvent(EvAbs, AbsMtSlot, 1),
		NewEvent(EvAbs, absMtTrackingID, -1),
		NewEvent(EvAbs, AbsMtSlot, 0),
		NewEvent(EvAbs, absMtTrackingID, -1),
	)

	src := &scriptSource{steps: []scriptStep{
		events(rawSyn(SynDropped), rawSyn(SynReport)),
	}}
	q := &fakeQuerier{states: []*DeviceState{a.clone(), b}}
	s := newTestSyncStream(t, caps, src, q)

	batch, err := s.Next()
	require.NoError(t, err)
	require.NotEmpty(t, batch.Events)
	require.Equal(t, b, s.state)

	// Replaying the synthetic batch over A independently also lands on B.
	replayed := a.clone()
	for _, ev := range batch.Events {
		replayed.apply(ev)
	}
	assert.Equal(t, b, replayed)
}

func TestSyncStreamIdleDevice(t *testing.T) {
	caps := testCaps()
	src := &scriptSource{}
	s := newTestSyncStream(t, caps, src, &fakeQuerier{states: []*DeviceState{newDeviceState(caps)}})

	_, err := s.Next()
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.Next()
	require.ErrorIs(t, err, ErrClosed)
}

func TestSyncStreamWouldBlockIsNotFatal(t *testing.T) {
	caps := testCaps()
	src := &scriptSource{steps: []scriptStep{
		fails(ErrWouldBlock),
		events(rawKey(keyA, 1), rawSyn(SynReport)),
	}}
	s := newTestSyncStream(t, caps, src, &fakeQuerier{states: []*DeviceState{newDeviceState(caps)}})

	_, err := s.Next()
	require.ErrorIs(t, err, ErrWouldBlock)

	b, err := s.Next()
	require.NoError(t, err)
	require.Len(t, b.Events, 2)
	assert.Equal(t, []uint16{keyA}, s.PressedKeys())
}

func TestSyncStreamResyncQueryFailureIsFatal(t *testing.T) {
	caps := testCaps()
	src := &scriptSource{steps: []scriptStep{
		events(rawSyn(SynDropped), rawSyn(SynReport)),
		events(rawKey(keyA, 1), rawSyn(SynReport)),
	}}
	q := &fakeQuerier{
		states: []*DeviceState{newDeviceState(caps)},
		err:    errors.New("ioctl failed"),
	}
	s := newTestSyncStream(t, caps, src, q)

	_, err := s.Next()
	require.Error(t, err)
	// Any failed resync query means the device can no longer be trusted.
	assert.ErrorIs(t, err, ErrDeviceGone)

	// Terminal: the queued batch is never served.
	_, err = s.Next()
	require.ErrorIs(t, err, ErrDeviceGone)
}

func TestSyncStreamColdStartQueryFailure(t *testing.T) {
	src := &scriptSource{}
	q := &fakeQuerier{err: errDeviceUnplugged()}
	_, err := newSyncStream(src, q, testCaps(), nil)
	require.Error(t, err)
}

func TestSyncStreamCacheAccessors(t *testing.T) {
	caps := testCapsMT(2)
	src := &scriptSource{steps: []scriptStep{
		events(
			rawKey(keyA, 1),
			rawAbs(AbsX, 77),
			RawEvent{Type: uint16(EvSw), Code: swLid, Value: 1},
			RawEvent{Type: uint16(EvLed), Code: ledCaps, Value: 1},
			rawAbs(AbsMtSlot, 1),
			rawAbs(absMtPositionX, 5),
			rawSyn(SynReport),
		),
	}}
	s := newTestSyncStream(t, caps, src, &fakeQuerier{states: []*DeviceState{newDeviceState(caps)}})

	_, err := s.Next()
	require.NoError(t, err)

	assert.Equal(t, []uint16{keyA}, s.PressedKeys())
	assert.True(t, s.KeyPressed(keyA))
	assert.Equal(t, []uint16{swLid}, s.ActiveSwitches())
	assert.Equal(t, []uint16{ledCaps}, s.LitLEDs())
	info, ok := s.AbsValue(AbsX)
	require.True(t, ok)
	assert.Equal(t, int32(77), info.Value)
	assert.Contains(t, s.AbsValues(), uint16(AbsX))
	assert.Equal(t, 1, s.SelectedSlot())
	v, ok := s.SlotValue(1, absMtPositionX)
	require.True(t, ok)
	assert.Equal(t, int32(5), v)
}

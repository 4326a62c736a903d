package shm

import "sync/atomic"

// WriteAudioIn copies data into input port's buffer at side, truncating
// to the port's fixed per-channel vector size (spec §4.1's audio layout
// is fixed capacity, never reallocated).
func (d *DeviceRecord) WriteAudioIn(port, side int, channel int, data []float32) {
	dst := d.Layout.AudioIn[port].Sides[side][channel*VectorSize : (channel+1)*VectorSize]
	n := copy(dst, data)
	for i := n; i < VectorSize; i++ {
		dst[i] = 0
	}
}

// ReadAudioOut returns the samples an adapter wrote for one channel of
// one output port at side.
func (d *DeviceRecord) ReadAudioOut(port, side int, channel int) []float32 {
	return d.Layout.AudioOut[port].Sides[side][channel*VectorSize : (channel+1)*VectorSize]
}

// ReadAudioIn mirrors ReadAudioOut for the input side, used by an
// adapter's process step and by intra-sandbox routing (spec §4.5 step
// 3's "copy each outgoing connection's output buffer into the peer
// device's input buffer").
func (d *DeviceRecord) ReadAudioIn(port, side int, channel int) []float32 {
	return d.Layout.AudioIn[port].Sides[side][channel*VectorSize : (channel+1)*VectorSize]
}

// WriteAudioOut is the adapter-side counterpart of WriteAudioIn.
func (d *DeviceRecord) WriteAudioOut(port, side int, channel int, data []float32) {
	dst := d.Layout.AudioOut[port].Sides[side][channel*VectorSize : (channel+1)*VectorSize]
	n := copy(dst, data)
	for i := n; i < VectorSize; i++ {
		dst[i] = 0
	}
}

// ResetEventsIn clears the event count for a fresh epoch's backside
// before the client appends this buffer's events (spec §4.5 step 2).
func (d *DeviceRecord) ResetEventsIn(side int) {
	atomic.StoreUint32(&d.Layout.EventsIn[side].Count, 0)
}

// ResetEventsOut mirrors ResetEventsIn for the adapter's output side.
func (d *DeviceRecord) ResetEventsOut(side int) {
	atomic.StoreUint32(&d.Layout.EventsOut[side].Count, 0)
}

// PushEventIn appends one event to events_in[side], dropping it and
// returning false if the fixed capacity is already exhausted (spec
// §4.1: "surplus events past MaxEvents are dropped; events already
// present are preserved").
func (d *DeviceRecord) PushEventIn(side int, e RawEvent) bool {
	return pushEvent(&d.Layout.EventsIn[side], e)
}

// PushEventOut is the adapter-side counterpart of PushEventIn.
func (d *DeviceRecord) PushEventOut(side int, e RawEvent) bool {
	return pushEvent(&d.Layout.EventsOut[side], e)
}

func pushEvent(s *eventSide, e RawEvent) bool {
	n := atomic.LoadUint32(&s.Count)
	if int(n) >= MaxEvents {
		return false
	}
	s.Slots[n] = e
	atomic.StoreUint32(&s.Count, n+1)
	return true
}

// EventsIn returns the events currently queued on events_in[side],
// without clearing them.
func (d *DeviceRecord) EventsIn(side int) []RawEvent {
	n := atomic.LoadUint32(&d.Layout.EventsIn[side].Count)
	return d.Layout.EventsIn[side].Slots[:n]
}

// PopEventsOut reads and clears events_out[side] (spec §4.5 step 5's
// "pop its events_out[F]"), copying into dst rather than allocating so
// the realtime caller can reuse a fixed scratch buffer across buffers;
// dst must have capacity >= MaxEvents.
func (d *DeviceRecord) PopEventsOut(side int, dst []RawEvent) []RawEvent {
	n := atomic.LoadUint32(&d.Layout.EventsOut[side].Count)
	out := dst[:n]
	copy(out, d.Layout.EventsOut[side].Slots[:n])
	atomic.StoreUint32(&d.Layout.EventsOut[side].Count, 0)
	return out
}

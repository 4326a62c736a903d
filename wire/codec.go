package wire

import "math"

// encoder accumulates a message payload: POD fields, then
// length-prefixed UTF-8 strings, then length-prefixed opaque byte blobs
// (spec §4.3's payload shapes).
type encoder struct {
	buf []byte
}

func newEncoder() *encoder { return &encoder{buf: make([]byte, 0, 64)} }

func (e *encoder) u64(v uint64) *encoder {
	var b [8]byte
	order.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

func (e *encoder) i64(v int64) *encoder { return e.u64(uint64(v)) }

func (e *encoder) u32(v uint32) *encoder {
	var b [4]byte
	order.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

func (e *encoder) f64(v float64) *encoder { return e.u64(math.Float64bits(v)) }

func (e *encoder) boolean(v bool) *encoder {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
	return e
}

func (e *encoder) str(s string) *encoder {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
	return e
}

func (e *encoder) bytes(b []byte) *encoder {
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
	return e
}

func (e *encoder) bytesOut() []byte { return e.buf }

// decoder is the mirror reader over a single payload slice.
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(b []byte) *decoder { return &decoder{buf: b} }

func (d *decoder) u64() uint64 {
	v := order.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return v
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

func (d *decoder) u32() uint32 {
	v := order.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return v
}

func (d *decoder) f64() float64 { return math.Float64frombits(d.u64()) }

func (d *decoder) boolean() bool {
	v := d.buf[d.pos] != 0
	d.pos++
	return v
}

func (d *decoder) str() string {
	n := int(d.u32())
	s := string(d.buf[d.pos : d.pos+n])
	d.pos += n
	return s
}

func (d *decoder) bytesIn() []byte {
	n := int(d.u32())
	b := make([]byte, n)
	copy(b, d.buf[d.pos:d.pos+n])
	d.pos += n
	return b
}

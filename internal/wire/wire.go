// Package wire implements the binary request/response codec:
// length-framed requests (u32 len, then u32 nstr, then per-arg u32 len +
// bytes) and tagged responses (u8 tag + type-specific payload, the whole
// thing wrapped in its own u32 len frame).
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

// MaxFrameSize bounds both request and response frame bodies.
const MaxFrameSize = 32 * 1024 * 1024

// MaxArgs bounds the number of strings in one request.
const MaxArgs = 200000

// ErrNeedMore is returned by Decoder.Next when the buffer does not yet
// hold a complete frame. It is not a protocol error: the caller should
// keep reading from the socket and retry.
var ErrNeedMore = errors.New("wire: incomplete frame")

// ErrFrameTooBig is returned when a request's length prefix exceeds
// MaxFrameSize. This is a framing error: the caller must close the
// connection, not reply.
var ErrFrameTooBig = errors.New("wire: frame exceeds size cap")

// ErrMalformed is returned for any structurally invalid body (declared
// nstr/slen that doesn't fit the frame, or argument count over MaxArgs).
// Also a framing error: the caller must close the connection.
var ErrMalformed = errors.New("wire: malformed request body")

// Error codes carried in an ERR response's u32 code field.
const (
	ErrCodeUnknown = uint32(1)
	ErrCodeTooBig  = uint32(2)
	ErrCodeBadType = uint32(3)
	ErrCodeBadArg  = uint32(4)
)

// Response tags.
const (
	TagNil = 0
	TagErr = 1
	TagStr = 2
	TagInt = 3
	TagDbl = 4
	TagArr = 5
	TagOK  = 6
)

// Decoder accumulates bytes read from a connection and yields whole
// requests. It holds no reference to the connection itself; the reactor
// feeds it bytes from each read.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends freshly-read bytes to the decoder's buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next attempts to parse one complete request from the buffered bytes.
// It returns ErrNeedMore if the buffer doesn't yet hold a full frame (not
// an error condition — wait for more reads), or ErrFrameTooBig/ErrMalformed
// if the frame is structurally invalid (the caller must close the
// connection). On success the consumed bytes are dropped from the
// internal buffer so repeated calls drain the buffer one whole request
// at a time.
func (d *Decoder) Next() ([]string, error) {
	if len(d.buf) < 4 {
		return nil, ErrNeedMore
	}
	frameLen := binary.LittleEndian.Uint32(d.buf[:4])
	if frameLen > MaxFrameSize {
		return nil, ErrFrameTooBig
	}
	total := 4 + int(frameLen)
	if len(d.buf) < total {
		return nil, ErrNeedMore
	}

	args, err := parseBody(d.buf[4:total])
	if err != nil {
		return nil, err
	}
	d.buf = d.buf[total:]
	return args, nil
}

func parseBody(body []byte) ([]string, error) {
	if len(body) < 4 {
		return nil, ErrMalformed
	}
	nstr := binary.LittleEndian.Uint32(body[:4])
	if nstr > MaxArgs {
		return nil, ErrMalformed
	}
	body = body[4:]

	args := make([]string, 0, nstr)
	for i := uint32(0); i < nstr; i++ {
		if len(body) < 4 {
			return nil, ErrMalformed
		}
		slen := binary.LittleEndian.Uint32(body[:4])
		body = body[4:]
		if uint64(slen) > uint64(len(body)) {
			return nil, ErrMalformed
		}
		args = append(args, string(body[:slen]))
		body = body[slen:]
	}
	if len(body) != 0 {
		return nil, ErrMalformed
	}
	return args, nil
}

// EncodeRequest frames args the same way a client would; used by tests
// so wire owns both directions of its own framing.
func EncodeRequest(args []string) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint32(len(args)))
	for _, a := range args {
		binary.Write(&body, binary.LittleEndian, uint32(len(a)))
		body.WriteString(a)
	}
	return frame(body.Bytes())
}

// Value is a tagged response value: tag byte plus its type-specific
// payload, not yet wrapped in an outer length frame. Arrays nest Values
// without their own frame: a u32 count followed by that many tagged
// values back to back.
type Value []byte

// Nil is the NIL response value.
func Nil() Value { return Value{TagNil} }

// OK is the OK response value.
func OK() Value { return Value{TagOK} }

// Err builds an ERR response value with the given code and message.
func Err(code uint32, msg string) Value {
	var b bytes.Buffer
	b.WriteByte(TagErr)
	binary.Write(&b, binary.LittleEndian, code)
	binary.Write(&b, binary.LittleEndian, uint32(len(msg)))
	b.WriteString(msg)
	return Value(b.Bytes())
}

// Str builds a STR response value.
func Str(s string) Value {
	var b bytes.Buffer
	b.WriteByte(TagStr)
	binary.Write(&b, binary.LittleEndian, uint32(len(s)))
	b.WriteString(s)
	return Value(b.Bytes())
}

// Int builds an INT response value.
func Int(i int64) Value {
	var b bytes.Buffer
	b.WriteByte(TagInt)
	binary.Write(&b, binary.LittleEndian, i)
	return Value(b.Bytes())
}

// Dbl builds a DBL response value.
func Dbl(f float64) Value {
	var b bytes.Buffer
	b.WriteByte(TagDbl)
	binary.Write(&b, binary.LittleEndian, math.Float64bits(f))
	return Value(b.Bytes())
}

// Arr builds an ARR response value from already-encoded child values.
func Arr(items []Value) Value {
	var b bytes.Buffer
	b.WriteByte(TagArr)
	binary.Write(&b, binary.LittleEndian, uint32(len(items)))
	for _, it := range items {
		b.Write(it)
	}
	return Value(b.Bytes())
}

// Encode wraps v in its outer u32 length frame, the way the reactor
// writes it to a connection's outgoing buffer: reserve four bytes,
// encode the value, then back-patch the length. Here the reservation is
// the leading 4 zero bytes of the buffer, which frame() overwrites once
// the body's length is known.
func Encode(v Value) []byte {
	return frame(v)
}

func frame(body []byte) []byte {
	if len(body) > MaxFrameSize {
		body = Err(ErrCodeTooBig, "response exceeded the frame size cap")
	}

	buf := make([]byte, 4, 4+len(body))
	buf = append(buf, body...)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(body)))
	return buf
}

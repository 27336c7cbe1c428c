// Package codec serializes cache payloads to a self-describing binary
// format. A payload is a tagged union of a columnar result table or a raw
// JSON document. Serialized bytes above a size threshold are gzip
// compressed; the entry header records which encoding was actually applied,
// so a reader needs no external hints to decode.
//
// Wire format:
//
//	{1B encoding}{1B content type}{4B big-endian payload length}{payload}
//
// Decode never trusts the stored bytes: a header/byte mismatch yields
// ErrCorruptEntry so the caller can treat the entry as a cache miss instead
// of failing the request.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrCorruptEntry is returned when stored bytes fail to decode: truncated
// header, unknown tags, length mismatch, or an undecodable body. Match with
// errors.Is.
var ErrCorruptEntry = errors.New("codec: corrupt cache entry")

// ErrInvalidPayload is returned by Encode when the payload union is
// malformed (unknown content type, nil frame, invalid JSON).
var ErrInvalidPayload = errors.New("codec: invalid payload")

// DefaultCompressionThreshold is the serialized size above which payloads
// are gzip compressed. Compressing tiny payloads wastes CPU for no benefit.
const DefaultCompressionThreshold = 1024

// Encoding identifies the byte-level encoding of a stored payload.
type Encoding byte

const (
	// EncodingNone marks an empty payload.
	EncodingNone Encoding = 0
	// EncodingRaw marks serialized, uncompressed bytes.
	EncodingRaw Encoding = 1
	// EncodingGzip marks serialized bytes compressed with gzip.
	EncodingGzip Encoding = 2
)

// ContentType identifies the logical shape of a stored payload.
type ContentType byte

const (
	// ContentTypeFrame is a columnar result table (msgpack-serialized).
	ContentTypeFrame ContentType = 1
	// ContentTypeJSON is a raw JSON document.
	ContentTypeJSON ContentType = 2
)

const headerSize = 6

// Payload is the tagged union handed to and returned by the cache. Exactly
// one of Frame or JSON is populated, chosen by ContentType.
type Payload struct {
	ContentType ContentType
	Frame       *Frame
	JSON        json.RawMessage
}

// FrameOf wraps a result table as a payload.
func FrameOf(f *Frame) Payload {
	return Payload{ContentType: ContentTypeFrame, Frame: f}
}

// RawJSON wraps an already-serialized JSON document as a payload.
func RawJSON(raw []byte) Payload {
	return Payload{ContentType: ContentTypeJSON, JSON: raw}
}

// JSONOf marshals v and wraps it as a JSON payload.
func JSONOf(v any) (Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Payload{}, errors.Wrap(ErrInvalidPayload, err.Error())
	}
	return RawJSON(raw), nil
}

// Entry is a stored cache value. Entries are immutable after creation:
// they are only ever replaced or deleted, never mutated in place. CreatedAt
// and TTL are bookkeeping for the writer; expiry is enforced by the store's
// native TTL, so neither survives the wire format.
type Entry struct {
	Encoding    Encoding
	ContentType ContentType
	Body        []byte
	CreatedAt   time.Time
	TTL         time.Duration
}

// Codec encodes payloads into entries and back.
type Codec struct {
	threshold int
}

// Option configures a Codec.
type Option func(*Codec)

// WithCompressionThreshold overrides the serialized size above which
// payloads are compressed. Zero or negative disables compression.
func WithCompressionThreshold(n int) Option {
	return func(c *Codec) { c.threshold = n }
}

// New returns a Codec with the default compression threshold.
func New(opts ...Option) *Codec {
	c := &Codec{threshold: DefaultCompressionThreshold}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) serialize(p Payload) ([]byte, error) {
	switch p.ContentType {
	case ContentTypeFrame:
		if p.Frame == nil {
			return nil, errors.Wrap(ErrInvalidPayload, "frame payload without frame")
		}
		data, err := msgpack.Marshal(p.Frame)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidPayload, err.Error())
		}
		return data, nil
	case ContentTypeJSON:
		if !json.Valid(p.JSON) {
			return nil, errors.Wrap(ErrInvalidPayload, "malformed JSON document")
		}
		return p.JSON, nil
	}
	return nil, errors.Wrapf(ErrInvalidPayload, "unknown content type %d", p.ContentType)
}

// Encode serializes a payload and conditionally compresses it. The returned
// entry records the encoding actually used; compression is kept only when
// it reduces size.
func (c *Codec) Encode(p Payload, ttl time.Duration) (*Entry, error) {
	data, err := c.serialize(p)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		Encoding:    EncodingRaw,
		ContentType: p.ContentType,
		Body:        data,
		CreatedAt:   time.Now().UTC(),
		TTL:         ttl,
	}
	if len(data) == 0 {
		entry.Encoding = EncodingNone
		return entry, nil
	}

	if c.threshold > 0 && len(data) > c.threshold {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		if buf.Len() < len(data) {
			entry.Encoding = EncodingGzip
			entry.Body = buf.Bytes()
		}
	}
	return entry, nil
}

// Marshal renders an entry into the binary wire format.
func (c *Codec) Marshal(e *Entry) []byte {
	out := make([]byte, headerSize+len(e.Body))
	out[0] = byte(e.Encoding)
	out[1] = byte(e.ContentType)
	binary.BigEndian.PutUint32(out[2:6], uint32(len(e.Body)))
	copy(out[headerSize:], e.Body)
	return out
}

// Unmarshal parses the binary wire format back into an entry, validating
// every header field against the bytes that follow.
func (c *Codec) Unmarshal(raw []byte) (*Entry, error) {
	if len(raw) < headerSize {
		return nil, errors.Wrapf(ErrCorruptEntry, "short entry: %d bytes", len(raw))
	}
	enc := Encoding(raw[0])
	switch enc {
	case EncodingNone, EncodingRaw, EncodingGzip:
	default:
		return nil, errors.Wrapf(ErrCorruptEntry, "unknown encoding tag %d", raw[0])
	}
	ct := ContentType(raw[1])
	switch ct {
	case ContentTypeFrame, ContentTypeJSON:
	default:
		return nil, errors.Wrapf(ErrCorruptEntry, "unknown content type tag %d", raw[1])
	}
	length := binary.BigEndian.Uint32(raw[2:6])
	body := raw[headerSize:]
	if int(length) != len(body) {
		return nil, errors.Wrapf(ErrCorruptEntry, "length mismatch: header %d, body %d", length, len(body))
	}
	if enc == EncodingNone && len(body) != 0 {
		return nil, errors.Wrap(ErrCorruptEntry, "non-empty body with empty encoding tag")
	}
	return &Entry{Encoding: enc, ContentType: ct, Body: body}, nil
}

// Decode reverses Encode, decompressing and deserializing the entry body
// into a payload.
func (c *Codec) Decode(e *Entry) (Payload, error) {
	data := e.Body
	switch e.Encoding {
	case EncodingGzip:
		zr, err := gzip.NewReader(bytes.NewReader(e.Body))
		if err != nil {
			return Payload{}, errors.Wrap(ErrCorruptEntry, err.Error())
		}
		data, err = io.ReadAll(zr)
		if err != nil {
			return Payload{}, errors.Wrap(ErrCorruptEntry, err.Error())
		}
		if err := zr.Close(); err != nil {
			return Payload{}, errors.Wrap(ErrCorruptEntry, err.Error())
		}
	case EncodingNone, EncodingRaw:
	default:
		return Payload{}, errors.Wrapf(ErrCorruptEntry, "unknown encoding tag %d", e.Encoding)
	}

	switch e.ContentType {
	case ContentTypeFrame:
		var f Frame
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		// Loose decoding widens cell values to int64/uint64/float64 so a
		// frame round-trips to the same cell types it was built with.
		dec.UseLooseInterfaceDecoding(true)
		if err := dec.Decode(&f); err != nil {
			return Payload{}, errors.Wrap(ErrCorruptEntry, err.Error())
		}
		return FrameOf(&f), nil
	case ContentTypeJSON:
		if len(data) > 0 && !json.Valid(data) {
			return Payload{}, errors.Wrap(ErrCorruptEntry, "stored bytes are not valid JSON")
		}
		return RawJSON(data), nil
	}
	return Payload{}, errors.Wrapf(ErrCorruptEntry, "unknown content type tag %d", e.ContentType)
}

// EncodeBytes is Encode followed by Marshal.
func (c *Codec) EncodeBytes(p Payload, ttl time.Duration) ([]byte, error) {
	entry, err := c.Encode(p, ttl)
	if err != nil {
		return nil, err
	}
	return c.Marshal(entry), nil
}

// DecodeBytes is Unmarshal followed by Decode.
func (c *Codec) DecodeBytes(raw []byte) (Payload, error) {
	entry, err := c.Unmarshal(raw)
	if err != nil {
		return Payload{}, err
	}
	return c.Decode(entry)
}

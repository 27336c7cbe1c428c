package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(rows int) *Frame {
	f := NewFrame("vendor_code", "city", "orders", "rating")
	for i := 0; i < rows; i++ {
		_ = f.AppendRow("v-"+strings.Repeat("x", i%7), "tehran", int64(i), float64(i)/3.0)
	}
	return f
}

func TestFrameRoundTrip(t *testing.T) {
	c := New()
	for _, rows := range []int{0, 1, 50, 500} {
		f := testFrame(rows)
		raw, err := c.EncodeBytes(FrameOf(f), time.Minute)
		require.NoError(t, err)

		got, err := c.DecodeBytes(raw)
		require.NoError(t, err)
		assert.Equal(t, ContentTypeFrame, got.ContentType)
		assert.Equal(t, f, got.Frame)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	c := New()
	docs := []string{
		`{}`,
		`{"vendors":[]}`,
		`{"vendors":[{"code":"v1","lat":35.7219,"lng":51.3347}],"total":1}`,
		`[1,2,3]`,
		`"just a string"`,
	}
	for _, doc := range docs {
		raw, err := c.EncodeBytes(RawJSON([]byte(doc)), time.Minute)
		require.NoError(t, err)

		got, err := c.DecodeBytes(raw)
		require.NoError(t, err)
		assert.Equal(t, ContentTypeJSON, got.ContentType)
		assert.JSONEq(t, doc, string(got.JSON))
	}
}

func TestJSONOf(t *testing.T) {
	c := New()
	p, err := JSONOf(map[string]any{"city": "tehran", "page": 1})
	require.NoError(t, err)

	raw, err := c.EncodeBytes(p, time.Minute)
	require.NoError(t, err)
	got, err := c.DecodeBytes(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"city":"tehran","page":1}`, string(got.JSON))
}

func TestCompressionThreshold(t *testing.T) {
	c := New(WithCompressionThreshold(128))

	small, err := c.Encode(RawJSON([]byte(`{"a":1}`)), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, EncodingRaw, small.Encoding, "tiny payloads are not compressed")

	doc := `{"rows":"` + strings.Repeat("abcdefgh", 200) + `"}`
	big, err := c.Encode(RawJSON([]byte(doc)), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, EncodingGzip, big.Encoding)
	assert.Less(t, len(big.Body), len(doc))

	// Decode is driven entirely by the recorded tag.
	got, err := c.Decode(big)
	require.NoError(t, err)
	assert.Equal(t, doc, string(got.JSON))
}

func TestCompressionDisabled(t *testing.T) {
	c := New(WithCompressionThreshold(0))
	doc := `{"rows":"` + strings.Repeat("abcdefgh", 200) + `"}`
	e, err := c.Encode(RawJSON([]byte(doc)), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, EncodingRaw, e.Encoding)
}

func TestEncodeRejectsInvalidPayloads(t *testing.T) {
	c := New()

	_, err := c.Encode(Payload{ContentType: ContentTypeFrame}, time.Minute)
	assert.True(t, errors.Is(err, ErrInvalidPayload))

	_, err = c.Encode(RawJSON([]byte(`{"unclosed":`)), time.Minute)
	assert.True(t, errors.Is(err, ErrInvalidPayload))

	_, err = c.Encode(Payload{ContentType: 99}, time.Minute)
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestDecodeCorruption(t *testing.T) {
	c := New()
	raw, err := c.EncodeBytes(FrameOf(testFrame(100)), time.Minute)
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":              {},
		"short header":       raw[:3],
		"bad encoding tag":   append([]byte{0xFF}, raw[1:]...),
		"bad content tag":    {raw[0], 0xFF, raw[2], raw[3], raw[4], raw[5]},
		"truncated body":     raw[:len(raw)-4],
		"length mismatch":    append(bytes.Clone(raw), 0x00),
		"garbage gzip body":  {byte(EncodingGzip), byte(ContentTypeJSON), 0, 0, 0, 3, 'a', 'b', 'c'},
		"garbage frame body": {byte(EncodingRaw), byte(ContentTypeFrame), 0, 0, 0, 3, 0xc1, 0xc1, 0xc1},
	}
	for name, corrupt := range cases {
		_, err := c.DecodeBytes(corrupt)
		assert.True(t, errors.Is(err, ErrCorruptEntry), "case %q: %v", name, err)
	}
}

func TestFrameSlice(t *testing.T) {
	f := testFrame(10)
	page := f.Slice(2, 5)
	assert.Equal(t, 3, page.NumRows())
	assert.Equal(t, f.Columns, page.Columns)
	assert.Equal(t, f.Rows[2], page.Rows[0])

	assert.Equal(t, 0, f.Slice(20, 30).NumRows())
	assert.Equal(t, 10, f.Slice(-5, 99).NumRows())
}

func TestAppendRowArity(t *testing.T) {
	f := NewFrame("a", "b")
	assert.Error(t, f.AppendRow("only-one"))
	assert.NoError(t, f.AppendRow("x", "y"))
}

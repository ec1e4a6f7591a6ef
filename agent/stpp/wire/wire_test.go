package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringRoundTrip(t *testing.T) {
	// 0xff is the boundary between the short and the long form.
	for _, n := range []int{0, 1, 254, 255, 256, 65535} {
		s := strings.Repeat("x", n)
		w := NewWriter()
		w.String(s)

		if n < 0xff {
			require.Equal(t, 1+n, len(w.Bytes()), "short form for %d", n)
		} else {
			require.Equal(t, 5+n, len(w.Bytes()), "long form for %d", n)
			require.Equal(t, byte(0xff), w.Bytes()[0])
		}

		r := NewReader(w.Bytes())
		got, err := r.String()
		require.NoError(t, err)
		require.Equal(t, s, got)
		require.Equal(t, 0, r.Len())
	}
}

func TestStringEmbeddedNUL(t *testing.T) {
	s := "ab\x00cd"
	w := NewWriter()
	w.String(s)
	got, err := NewReader(w.Bytes()).String()
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestStringTruncated(t *testing.T) {
	cases := map[string][]byte{
		"empty buffer":      {},
		"short payload":     {5, 'a', 'b'},
		"short long form":   {0xff, 1, 0},
		"long form missing": {0xff, 10, 0, 0, 0, 'a'},
	}
	for name, buf := range cases {
		_, err := NewReader(buf).String()
		require.ErrorIs(t, err, ErrMalformedFrame, name)
	}
}

func TestStringVectorRoundTrip(t *testing.T) {
	vec := []string{"global", "media", "current", "metadata"}
	w := NewWriter()
	w.StringVector(vec)

	got, err := NewReader(w.Bytes()).StringVector()
	require.NoError(t, err)
	require.Equal(t, vec, got)
}

func TestStringVectorEmpty(t *testing.T) {
	w := NewWriter()
	w.StringVector(nil)
	require.Equal(t, []byte{0}, w.Bytes())

	got, err := NewReader(w.Bytes()).StringVector()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStringVectorEmptyMemberTerminates(t *testing.T) {
	// A zero-length element is the terminator, so empty members cannot
	// travel. The writer drops them rather than cutting the vector short.
	w := NewWriter()
	w.StringVector([]string{"a", "", "b"})
	got, err := NewReader(w.Bytes()).StringVector()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got)
}

func TestStringVectorTruncated(t *testing.T) {
	cases := map[string][]byte{
		"no terminator":    {1, 'a'},
		"member cut short": {4, 'a', 'b'},
		"empty buffer":     {},
	}
	for name, buf := range cases {
		_, err := NewReader(buf).StringVector()
		require.ErrorIs(t, err, ErrMalformedFrame, name)
	}
}

func TestIntRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0xff, 0x12345678, 0xffffffff} {
		w := NewWriter()
		w.U32(v)
		got, err := NewReader(w.Bytes()).U32()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestFloatBitPreserving(t *testing.T) {
	// Floats travel as their raw bit pattern, so even NaN payload bits
	// survive the trip.
	for _, v := range []float32{0, 1.5, -3.25e7, float32(1) / 3} {
		w := NewWriter()
		w.F32(v)
		got, err := NewReader(w.Bytes()).F32()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestProprefRoundTrip(t *testing.T) {
	w := NewWriter()
	w.U32(42)
	w.StringVector([]string{"global", "playstatus"})

	r := NewReader(w.Bytes())
	id, path, err := r.Propref()
	require.NoError(t, err)
	require.Equal(t, uint32(42), id)
	require.Equal(t, []string{"global", "playstatus"}, path)
	require.Equal(t, 0, r.Len())
}

func TestProprefShort(t *testing.T) {
	_, _, err := NewReader([]byte{1, 0, 0}).Propref()
	require.ErrorIs(t, err, ErrMalformedFrame)

	// An id alone is not a propref; at least the vector terminator must
	// follow.
	_, _, err = NewReader([]byte{1, 0, 0, 0}).Propref()
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestNotifyHeader(t *testing.T) {
	w := NewNotify(TagSetVoid, 7)
	b := w.Bytes()
	require.Equal(t, 6, len(b))
	require.Equal(t, byte(CmdNotify), b[0])
	require.Equal(t, byte(TagSetVoid), b[1])
	require.Equal(t, []byte{7, 0, 0, 0}, b[2:6])
}

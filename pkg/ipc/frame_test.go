package ipc

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/vsockpep/pkg/core"
)

func TestFrameRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sizes := []int{0, 1, 3, 4, 5, 255, 256, 65536, 1 << 20}
	for _, size := range sizes {
		payload := make([]byte, size)
		rng.Read(payload)

		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, payload))
		assert.Equal(t, HeaderSize+size, buf.Len())

		got, err := ReadFrame(&buf)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, payload, got, "size %d", size)
	}
}

func TestEncodeHeaderIsBigEndian(t *testing.T) {
	frame, err := Encode([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'}, frame)

	frame, err = Encode(make([]byte, 0x010203))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0x03}, frame[:HeaderSize])
}

func TestReadFrameChunked(t *testing.T) {
	payload := []byte(`{"status":200,"headers":[],"body_base64":"aGVsbG8="}`)
	frame, err := Encode(payload)
	require.NoError(t, err)

	t.Run("one byte at a time", func(t *testing.T) {
		got, err := ReadFrame(iotest.OneByteReader(bytes.NewReader(frame)))
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("half reads", func(t *testing.T) {
		got, err := ReadFrame(iotest.HalfReader(bytes.NewReader(frame)))
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("data with EOF", func(t *testing.T) {
		got, err := ReadFrame(iotest.DataErrReader(bytes.NewReader(frame)))
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})
}

func TestReadFrameTruncated(t *testing.T) {
	frame, err := Encode([]byte("0123456789"))
	require.NoError(t, err)

	cases := []struct {
		name string
		cut  int
		want error
	}{
		{"empty stream", 0, core.ErrShortHeader},
		{"partial header", 3, core.ErrShortHeader},
		{"header only", HeaderSize, core.ErrShortPayload},
		{"partial payload", HeaderSize + 9, core.ErrShortPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ReadFrame(iotest.OneByteReader(bytes.NewReader(frame[:tc.cut])))
			assert.Nil(t, got)
			require.Error(t, err)
			assert.Equal(t, core.KindShortRead, core.KindOf(err))
			assert.True(t, errors.Is(err, tc.want))
		})
	}
}

func TestReadFrameLimit(t *testing.T) {
	frame, err := Encode(make([]byte, 100))
	require.NoError(t, err)

	_, err = ReadFrameLimit(bytes.NewReader(frame), 99)
	assert.True(t, errors.Is(err, core.ErrFrameTooLarge))

	got, err := ReadFrameLimit(bytes.NewReader(frame), 100)
	require.NoError(t, err)
	assert.Len(t, got, 100)
}

func TestReadFramePassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("reset by peer")
	_, err := ReadFrame(iotest.ErrReader(boom))
	assert.True(t, errors.Is(err, boom))
	assert.NotEqual(t, core.KindShortRead, core.KindOf(err))
}

// trickleWriter accepts at most n bytes per call.
type trickleWriter struct {
	n   int
	buf bytes.Buffer
}

func (w *trickleWriter) Write(p []byte) (int, error) {
	if len(p) > w.n {
		p = p[:w.n]
	}
	return w.buf.Write(p)
}

func TestWriteFramePartialWrites(t *testing.T) {
	payload := bytes.Repeat([]byte("abc"), 100)
	w := &trickleWriter{n: 7}
	require.NoError(t, WriteFrame(w, payload))

	got, err := ReadFrame(&w.buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

type zeroWriter struct{}

func (zeroWriter) Write([]byte) (int, error) { return 0, nil }

func TestWriteFrameStalledWriter(t *testing.T) {
	err := WriteFrame(zeroWriter{}, []byte("x"))
	assert.True(t, errors.Is(err, io.ErrShortWrite))
}

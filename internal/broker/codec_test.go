package broker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	frame := EncodeFrame(42, []byte("arrive-by=07:30"))

	handle, payload, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, int32(42), handle)
	assert.Equal(t, "arrive-by=07:30", string(payload))
}

func TestFrameEmptyPayload(t *testing.T) {
	handle, payload, err := DecodeFrame(EncodeFrame(7, nil))
	require.NoError(t, err)
	assert.Equal(t, int32(7), handle)
	assert.Empty(t, payload)
}

func TestFrameHandleIsBigEndianPrefix(t *testing.T) {
	frame := EncodeFrame(0x01020304, []byte("x"))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 'x'}, frame)
}

func TestDecodeFrameTooShort(t *testing.T) {
	for _, frame := range [][]byte{nil, {}, {1}, {1, 2, 3}} {
		_, _, err := DecodeFrame(frame)
		assert.ErrorIs(t, err, ErrShortFrame)
	}
}

func TestBuildRecordLayout(t *testing.T) {
	rec, err := BuildRecord("stop=1")
	require.NoError(t, err)

	require.Len(t, rec, RecordSize)
	assert.Equal(t, byte(recordVersion), rec[0])
	assert.Equal(t, byte(0), rec[1])
	assert.Equal(t, []byte{0, 6}, rec[2:4])
	assert.Equal(t, "stop=1", string(rec[4:10]))
	for i := 10; i < RecordSize; i++ {
		require.Zero(t, rec[i], "padding at %d", i)
	}
}

func TestBuildRecordRoundTrip(t *testing.T) {
	query := "from=central&to=airport&when=now"
	rec, err := BuildRecord(query)
	require.NoError(t, err)

	got, err := RecordQuery(rec)
	require.NoError(t, err)
	assert.Equal(t, query, got)
}

func TestBuildRecordQueryTooLong(t *testing.T) {
	fits := strings.Repeat("q", MaxQueryLen)
	_, err := BuildRecord(fits)
	require.NoError(t, err)

	_, err = BuildRecord(fits + "q")
	assert.ErrorIs(t, err, ErrQueryTooLong)
}

func TestRecordQueryRejectsGarbage(t *testing.T) {
	_, err := RecordQuery([]byte("short"))
	assert.ErrorIs(t, err, ErrBadRecord)

	rec, err := BuildRecord("x=1")
	require.NoError(t, err)
	rec[0] = 99 // unknown version
	_, err = RecordQuery(rec)
	assert.ErrorIs(t, err, ErrBadRecord)
}

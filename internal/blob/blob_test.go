package blob

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: []byte{}},
		{name: "text", data: []byte("G28\nG1 X10 Y10\n; EXECUTABLE_BLOCK_END\n")},
		{name: "repetitive", data: bytes.Repeat([]byte("G1 X100 Y100 E5.0\n"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.data)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.data)), b.Size)
			assert.Len(t, b.Digest, 64)

			got, err := b.Verify()
			require.NoError(t, err)
			assert.Equal(t, tt.data, got)
		})
	}
}

func TestEncode_Compresses(t *testing.T) {
	data := bytes.Repeat([]byte("G1 X100 Y100 E5.0\n"), 10000)
	b, err := Encode(data)
	require.NoError(t, err)
	assert.Less(t, len(b.Compressed), len(data)/10)
}

func TestDigest(t *testing.T) {
	// BLAKE3 of the empty input.
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", Digest(nil))
	assert.NotEqual(t, Digest([]byte("a")), Digest([]byte("b")))
	assert.Equal(t, Digest([]byte("plate")), Digest([]byte("plate")))
}

func TestVerify_Mismatch(t *testing.T) {
	b, err := Encode([]byte("original"))
	require.NoError(t, err)
	b.Digest = Digest([]byte("tampered"))

	_, err = b.Verify()
	assert.ErrorContains(t, err, "digest mismatch")
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("not xz"))
	assert.Error(t, err)
}

package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactName(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	assert.Equal(t, "user_1700000000.wav", ArtifactName(RoleUser, ts))
	assert.Equal(t, "remote_1700000000.wav", ArtifactName(RoleRemote, ts))
}

func TestWriteWAV_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "user_1.wav")
	samples := make([]int16, SampleRate/2) // half a second
	for i := range samples {
		samples[i] = int16(i % 300)
	}

	require.NoError(t, WriteWAV(path, samples, SampleRate))

	format, err := Format(path)
	require.NoError(t, err)
	assert.EqualValues(t, Channels, format.NumChannels)
	assert.EqualValues(t, SampleRate, format.SampleRate)
	assert.EqualValues(t, BitsPerSample, format.BitsPerSample)

	d, err := Duration(path)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, d)
}

func TestWriteWAV_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote_1.wav")

	require.NoError(t, WriteWAV(path, nil, SampleRate))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, headerSize)
	assert.Equal(t, "data", string(raw[36:40]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(raw[40:44]))

	d, err := Duration(path)
	require.NoError(t, err)
	assert.Zero(t, d)

	format, err := Format(path)
	require.NoError(t, err)
	assert.EqualValues(t, SampleRate, format.SampleRate)
}

func TestDuration_Truncated(t *testing.T) {
	dir := t.TempDir()
	for _, size := range []int{0, 1, 2, headerSize - 1} {
		path := filepath.Join(dir, fmt.Sprintf("tiny_%d.wav", size))
		require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))

		assert.NotPanics(t, func() {
			_, err := Duration(path)
			assert.ErrorIs(t, err, errTruncated)

			_, err = Format(path)
			assert.ErrorIs(t, err, errTruncated)
		})
	}
}

func TestDuration_MalformedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	junk := append([]byte("RIFF"), make([]byte, 60)...)
	junk[4] = 0xff // chunk table runs past the end of the file
	require.NoError(t, os.WriteFile(path, junk, 0644))

	assert.NotPanics(t, func() {
		_, err := Duration(path)
		assert.Error(t, err)
	})
}

func TestDuration_MissingFile(t *testing.T) {
	_, err := Duration(filepath.Join(t.TempDir(), "nope.wav"))
	assert.Error(t, err)
}

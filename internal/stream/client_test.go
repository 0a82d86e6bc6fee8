package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaster = `#EXTM3U
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=500000,RESOLUTION=640x360
mid.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=1000000,RESOLUTION=1280x720,CODECS="avc1.4d401f,mp4a.40.2"
high.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=250000
low.m3u8
`

const testLive = `#EXTM3U
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:10
#EXTINF:4,
s10.ts
#EXTINF:4,
s11.ts
#EXTINF:4,
s12.ts
#EXTINF:4,
s13.ts
`

func TestPlaylistClient_UpdateChangedThenUnchanged(t *testing.T) {
	c := NewPlaylistClient("http://example.com/live.m3u8")

	outcome, err := c.Update([]byte(testLive))
	require.NoError(t, err)
	assert.Equal(t, UpdateChanged, outcome)
	assert.Equal(t, 0, c.FailedUpdateCount())

	outcome, err = c.Update([]byte(testLive))
	require.NoError(t, err)
	assert.Equal(t, UpdateUnchanged, outcome)
	assert.Equal(t, 1, c.FailedUpdateCount())
}

func TestPlaylistClient_UpdateFailedKeepsDocument(t *testing.T) {
	c := NewPlaylistClient("http://example.com/live.m3u8")
	_, err := c.Update([]byte(testLive))
	require.NoError(t, err)

	outcome, err := c.Update([]byte("not a playlist"))
	require.Error(t, err)
	assert.Equal(t, UpdateFailed, outcome)
	assert.Equal(t, 1, c.FailedUpdateCount())
	assert.Equal(t, 4*time.Second, c.TargetDuration())

	seg, _, ok := c.NextSegment()
	require.True(t, ok)
	assert.Equal(t, uint64(10), seg.Sequence)
}

func TestPlaylistClient_SetCurrent(t *testing.T) {
	c := NewPlaylistClient("http://example.com/master.m3u8")
	_, err := c.Update([]byte(testMaster))
	require.NoError(t, err)

	require.True(t, c.HasVariants())
	assert.Equal(t, []int64{1000000, 500000, 250000}, c.Bandwidths())
	assert.Equal(t, MasterIndex, c.CurrentIndex())

	// Identical text bumps the counter; SetCurrent resets it.
	_, err = c.Update([]byte(testMaster))
	require.NoError(t, err)
	assert.Equal(t, 1, c.FailedUpdateCount())

	require.NoError(t, c.SetCurrent(0))
	assert.Equal(t, 0, c.FailedUpdateCount())
	assert.Equal(t, "http://example.com/high.m3u8", c.CurrentURI())

	assert.Error(t, c.SetCurrent(3))
	assert.Error(t, c.SetCurrent(-2))
}

func TestPlaylistClient_VariantUpdateKeepsAttributes(t *testing.T) {
	c := NewPlaylistClient("http://example.com/master.m3u8")
	_, err := c.Update([]byte(testMaster))
	require.NoError(t, err)
	require.NoError(t, c.SetCurrent(0))

	outcome, err := c.Update([]byte(testLive))
	require.NoError(t, err)
	assert.Equal(t, UpdateChanged, outcome)

	snap := c.Snapshot()
	v := snap.Variants[0]
	assert.Equal(t, int64(1000000), v.Bandwidth)
	assert.Equal(t, "1280x720", v.Resolution.String())
	assert.Equal(t, "avc1.4d401f,mp4a.40.2", v.Codecs)
	assert.Equal(t, "http://example.com/high.m3u8", v.URI)
	assert.Len(t, v.Segments, 4)
	assert.Equal(t, "http://example.com/s10.ts", v.Segments[0].URI)
}

func TestPlaylistClient_MediaSequenceContinuity(t *testing.T) {
	c := NewPlaylistClient("http://example.com/live.m3u8")
	_, err := c.Update([]byte(testLive))
	require.NoError(t, err)

	// A re-fetch without a media sequence tag keeps counting from the base.
	_, err = c.Update([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXTINF:4,\na.ts\n"))
	require.NoError(t, err)
	seg, _, ok := c.NextSegment()
	require.True(t, ok)
	assert.Equal(t, uint64(10), seg.Sequence)
}

func TestPlaylistClient_NextSegment(t *testing.T) {
	c := NewPlaylistClient("http://example.com/live.m3u8")
	_, err := c.Update([]byte(testLive))
	require.NoError(t, err)

	// The cursor starts at zero, so the first segment is a jump.
	seg, disc, ok := c.NextSegment()
	require.True(t, ok)
	assert.Equal(t, uint64(10), seg.Sequence)
	assert.True(t, disc)
	assert.Equal(t, uint64(11), c.Cursor())

	for want := uint64(11); want <= 13; want++ {
		seg, disc, ok = c.NextSegment()
		require.True(t, ok)
		assert.Equal(t, want, seg.Sequence)
		assert.False(t, disc)
	}

	_, _, ok = c.NextSegment()
	assert.False(t, ok)
	assert.Equal(t, uint64(14), c.Cursor())

	// The window slid past the cursor: sequences 14 and 15 are new.
	_, err = c.Update([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:16\n#EXTINF:4,\ns16.ts\n"))
	require.NoError(t, err)
	seg, disc, ok = c.NextSegment()
	require.True(t, ok)
	assert.Equal(t, uint64(16), seg.Sequence)
	assert.True(t, disc)
}

func TestPlaylistClient_HasSufficientLookahead(t *testing.T) {
	c := NewPlaylistClient("http://example.com/live.m3u8")
	_, err := c.Update([]byte(testLive))
	require.NoError(t, err)

	// 16s queued against a 12s threshold.
	assert.True(t, c.HasSufficientLookahead())

	for i := 0; i < 3; i++ {
		_, _, ok := c.NextSegment()
		require.True(t, ok)
	}
	// Only the last 4s segment remains.
	assert.False(t, c.HasSufficientLookahead())
}

func TestPlaylistClient_ReloadInterval(t *testing.T) {
	c := NewPlaylistClient("http://example.com/live.m3u8")
	_, err := c.Update([]byte(testLive))
	require.NoError(t, err)

	want := []time.Duration{
		4 * time.Second,
		2 * time.Second,
		6 * time.Second,
		12 * time.Second,
		12 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, i, c.FailedUpdateCount())
		assert.Equal(t, w, c.ReloadInterval(), "failed updates %d", i)
		_, err := c.Update([]byte(testLive))
		require.NoError(t, err)
	}
}

func TestPlaylistClient_ReloadIntervalDefaultTarget(t *testing.T) {
	c := NewPlaylistClient("http://example.com/live.m3u8")
	assert.Equal(t, 10*time.Second, c.ReloadInterval())
	assert.True(t, c.IsLive())
	assert.False(t, c.HasVariants())
}

func TestPlaylistClient_SeekLiveEdge(t *testing.T) {
	c := NewPlaylistClient("http://example.com/live.m3u8")
	_, err := c.Update([]byte(testLive))
	require.NoError(t, err)

	// Three target durations back from the newest segment is sequence 11.
	require.True(t, c.SeekLiveEdge())
	assert.Equal(t, uint64(11), c.Cursor())

	// Never moves backwards.
	for i := 0; i < 3; i++ {
		_, _, ok := c.NextSegment()
		require.True(t, ok)
	}
	assert.False(t, c.SeekLiveEdge())
	assert.Equal(t, uint64(14), c.Cursor())
}

func TestPlaylistClient_SeekLiveEdgeFinite(t *testing.T) {
	c := NewPlaylistClient("http://example.com/vod.m3u8")
	_, err := c.Update([]byte(testLive + "#EXT-X-ENDLIST\n"))
	require.NoError(t, err)

	assert.False(t, c.IsLive())
	assert.False(t, c.SeekLiveEdge())
	assert.Equal(t, uint64(0), c.Cursor())
}

func TestUpdateOutcome_String(t *testing.T) {
	assert.Equal(t, "unchanged", UpdateUnchanged.String())
	assert.Equal(t, "changed", UpdateChanged.String())
	assert.Equal(t, "failed", UpdateFailed.String())
	assert.Equal(t, "unknown", UpdateOutcome(9).String())
}

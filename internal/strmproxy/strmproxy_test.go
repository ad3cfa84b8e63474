package strmproxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zzackllack/AniBridge-sub000/internal/config"
)

func TestAuthenticator_NoneModeNeverFails(t *testing.T) {
	t.Parallel()
	a := NewAuthenticator(config.StrmProxyAuthNone, "", 0)
	require.NoError(t, a.RequireAuth(map[string]string{}))
	params, err := a.BuildAuthParams(map[string]string{"slug": "x"})
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestAuthenticator_APIKeyRoundTrip(t *testing.T) {
	t.Parallel()
	a := NewAuthenticator(config.StrmProxyAuthAPIKey, "s3cret", 0)
	params, err := a.BuildAuthParams(map[string]string{"slug": "x"})
	require.NoError(t, err)
	require.Equal(t, "s3cret", params["apikey"])

	merged := map[string]string{"slug": "x", "apikey": params["apikey"]}
	require.NoError(t, a.RequireAuth(merged))

	merged["apikey"] = "wrong"
	require.Error(t, a.RequireAuth(merged))
}

func TestAuthenticator_TokenModeExpiryAndSignature(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewAuthenticator(config.StrmProxyAuthToken, "s3cret", 60)
	a.now = func() time.Time { return now }

	base := map[string]string{"slug": "x", "s": "1", "e": "1"}
	auth, err := a.BuildAuthParams(base)
	require.NoError(t, err)

	full := map[string]string{}
	for k, v := range base {
		full[k] = v
	}
	for k, v := range auth {
		full[k] = v
	}
	require.NoError(t, a.RequireAuth(full))

	// Expired token: advance the clock past the TTL.
	a.now = func() time.Time { return now.Add(2 * time.Minute) }
	require.Error(t, a.RequireAuth(full))

	// Tampered signature.
	a.now = func() time.Time { return now }
	tampered := map[string]string{}
	for k, v := range full {
		tampered[k] = v
	}
	tampered["slug"] = "y"
	require.Error(t, a.RequireAuth(tampered))
}

func TestURLBuilder_BuildStreamURLIsDeterministic(t *testing.T) {
	t.Parallel()
	auth := NewAuthenticator(config.StrmProxyAuthNone, "", 0)
	b := NewURLBuilder("https://proxy.example.com/", auth)

	id := Identity{Site: "aniworld.to", Slug: "frieren", Season: 1, Episode: 1, Language: "German Dub"}
	u1, err := b.BuildStreamURL(id)
	require.NoError(t, err)
	u2, err := b.BuildStreamURL(id)
	require.NoError(t, err)
	assert.Equal(t, u1, u2)
	assert.Contains(t, u1, "https://proxy.example.com/strm/stream?")
	assert.True(t, b.IsAlreadyProxied(u1))
}

func TestURLBuilder_BuildProxyURLPassesThroughAlreadyProxied(t *testing.T) {
	t.Parallel()
	auth := NewAuthenticator(config.StrmProxyAuthNone, "", 0)
	b := NewURLBuilder("https://proxy.example.com", auth)

	streamURL, err := b.BuildStreamURL(Identity{Site: "s.to", Slug: "x", Season: 1, Episode: 1, Language: "German Sub"})
	require.NoError(t, err)

	again, err := b.BuildProxyURL(streamURL)
	require.NoError(t, err)
	assert.Equal(t, streamURL, again)
}

func TestURLBuilder_BuildProxyURLDerivesNameFromUpstreamPath(t *testing.T) {
	t.Parallel()
	auth := NewAuthenticator(config.StrmProxyAuthNone, "", 0)
	b := NewURLBuilder("https://proxy.example.com", auth)

	u, err := b.BuildProxyURL("https://cdn.example.com/hls/seg-001.ts?token=abc")
	require.NoError(t, err)
	assert.Contains(t, u, "/strm/proxy/seg-001.ts")
}

func TestIsHLSMediaPlaylist(t *testing.T) {
	t.Parallel()
	media := "#EXTM3U\n#EXTINF:6.0,\nseg0.ts\n"
	master := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000\nlow.m3u8\n"
	assert.True(t, IsHLSMediaPlaylist(media))
	assert.False(t, IsHLSMediaPlaylist(master))
	assert.False(t, IsHLSMediaPlaylist(""))
}

func TestInjectStreamInfBandwidthHints_AddsMissingAttributes(t *testing.T) {
	t.Parallel()
	in := "#EXTM3U\n#EXT-X-STREAM-INF:RESOLUTION=1920x1080\nvariant.m3u8\n"
	out := InjectStreamInfBandwidthHints(in, 1_000_000)
	assert.Contains(t, out, "BANDWIDTH=1000000")
	assert.Contains(t, out, "AVERAGE-BANDWIDTH=")
}

func TestRewriteHLSPlaylist_RewritesSegmentAndKeyURIs(t *testing.T) {
	t.Parallel()
	in := "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n#EXTINF:6.0,\nseg0.ts\n"
	out := RewriteHLSPlaylist(in, "https://cdn.example.com/hls/index.m3u8", func(u string) string {
		return "https://proxy.example.com/strm/proxy/x?u=" + u
	})
	assert.Contains(t, out, "https://cdn.example.com/hls/key.bin")
	assert.Contains(t, out, "https://cdn.example.com/hls/seg0.ts")
	assert.Contains(t, out, `URI="https://proxy.example.com`)
}

func TestMemoryCache_GetSetInvalidateAndTTL(t *testing.T) {
	t.Parallel()
	id := Identity{Site: "aniworld.to", Slug: "frieren", Season: 1, Episode: 1, Language: "German Dub"}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(30)
	c.now = func() time.Time { return now }

	c.Set(id, Entry{URL: "https://example.com/video.m3u8", ResolvedAt: now})
	entry, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/video.m3u8", entry.URL)

	c.now = func() time.Time { return now.Add(time.Minute) }
	_, ok = c.Get(id)
	assert.False(t, ok, "entry should have expired past the ttl")

	c.now = func() time.Time { return now }
	c.Set(id, Entry{URL: "https://example.com/video.m3u8", ResolvedAt: now})
	c.Invalidate(id)
	_, ok = c.Get(id)
	assert.False(t, ok)
}

func TestBuildSyntheticMasterPlaylist(t *testing.T) {
	t.Parallel()
	out := BuildSyntheticMasterPlaylist("https://cdn.example.com/media.m3u8", 500_000)
	assert.Contains(t, out, "#EXTM3U")
	assert.Contains(t, out, "BANDWIDTH=500000")
	assert.Contains(t, out, "https://cdn.example.com/media.m3u8")
}

package strmproxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/Zzackllack/AniBridge-sub000/internal/metrics"
)

const remuxCacheVersion = "v1-file-mp4-copy-faststart"

// volatileQueryKeys are stripped from an upstream URL before fingerprinting
// it, so a signed URL that only differs by its expiry/signature still maps
// to the same cached remux artifact, matching remux.py's
// _VOLATILE_QUERY_KEYS.
var volatileQueryKeys = map[string]bool{
	"exp": true, "expires": true, "sig": true, "signature": true,
	"token": true, "auth": true, "hmac": true,
	"x-amz-signature": true, "x-amz-date": true, "x-amz-expires": true,
	"x-amz-security-token": true, "x-amz-credential": true,
	"policy": true, "key-pair-id": true,
}

// RemuxMeta is the JSON sidecar persisted next to a cached remux artifact,
// recording enough to decide whether the artifact is still valid.
type RemuxMeta struct {
	Status             string  `json:"status"`
	CacheKey           string  `json:"cache_key"`
	SourceFingerprint  string  `json:"source_fingerprint"`
	RemuxVersion       string  `json:"remux_version"`
	BuiltAtUnix        int64   `json:"built_at_unix,omitempty"`
	ExpiresAtUnix      int64   `json:"expires_at_unix,omitempty"`
	ArtifactSizeBytes  int64   `json:"artifact_size_bytes,omitempty"`
	FailureReason      string  `json:"failure_reason,omitempty"`
	FailureError       string  `json:"failure_error,omitempty"`
	FailedAtUnix       int64   `json:"failed_at_unix,omitempty"`
}

// RemuxDecision is the outcome of RemuxCache.EnsureArtifact: either a ready
// artifact path, or a reason to fall back to serving the upstream directly.
type RemuxDecision struct {
	ArtifactPath   string
	State          string // "ready", "building", "failed", "disabled"
	FallbackReason string
}

// RemuxCache manages file-backed MP4 remux artifacts for HLS sources that
// picky players refuse to stream directly, grounded on remux.py's
// RemuxCacheManager: an O_CREATE|O_EXCL lock file coordinates one build per
// cache key across goroutines, a weighted semaphore bounds concurrent
// ffmpeg invocations, and a JSON sidecar records build success/failure with
// a cooldown on the latter.
type RemuxCache struct {
	enabled          bool
	cacheDir         string
	ttl              time.Duration
	buildTimeout     time.Duration
	failCooldown     time.Duration
	buildWait        time.Duration
	sem              *semaphore.Weighted
}

// NewRemuxCache constructs a RemuxCache. When enabled is false,
// EnsureArtifact always returns a "disabled" decision without touching the
// filesystem.
func NewRemuxCache(enabled bool, cacheDir string, ttl, buildTimeout, failCooldown time.Duration, maxConcurrentBuilds int) *RemuxCache {
	if maxConcurrentBuilds < 1 {
		maxConcurrentBuilds = 1
	}
	buildWait := buildTimeout / 40
	if buildWait < time.Second {
		buildWait = time.Second
	}
	if buildWait > 5*time.Second {
		buildWait = 5 * time.Second
	}
	return &RemuxCache{
		enabled: enabled, cacheDir: cacheDir, ttl: ttl,
		buildTimeout: buildTimeout, failCooldown: failCooldown, buildWait: buildWait,
		sem: semaphore.NewWeighted(int64(maxConcurrentBuilds)),
	}
}

func sourceFingerprint(upstreamURL string) string {
	parsed, err := url.Parse(upstreamURL)
	if err != nil {
		sum := sha256.Sum256([]byte(upstreamURL))
		return hex.EncodeToString(sum[:])[:24]
	}
	kept := make([]string, 0)
	for k, vs := range parsed.Query() {
		if volatileQueryKeys[strings.ToLower(strings.TrimSpace(k))] {
			continue
		}
		for _, v := range vs {
			kept = append(kept, k+"="+v)
		}
	}
	sort.Strings(kept)
	canonical := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host) + parsed.Path + "?" + strings.Join(kept, "&")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:24]
}

func remuxCacheKey(id Identity, fingerprint string) string {
	payload := map[string]string{
		"site": id.Site, "slug": id.Slug,
		"season": strconv.Itoa(id.Season), "episode": strconv.Itoa(id.Episode),
		"language": id.Language, "provider": id.Provider,
		"source_fingerprint": fingerprint, "remux_version": remuxCacheVersion,
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(payload[k])
		b.WriteString(";")
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (c *RemuxCache) artifactPath(key string) string { return filepath.Join(c.cacheDir, key+".mp4") }
func (c *RemuxCache) metaPath(key string) string      { return filepath.Join(c.cacheDir, key+".meta.json") }
func (c *RemuxCache) lockPath(key string) string      { return filepath.Join(c.cacheDir, key+".lock") }
func (c *RemuxCache) tempPath(key string) string      { return filepath.Join(c.cacheDir, key+".tmp.mp4") }

func (c *RemuxCache) readMeta(key string) *RemuxMeta {
	raw, err := os.ReadFile(c.metaPath(key))
	if err != nil {
		return nil
	}
	var meta RemuxMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}
	return &meta
}

func (c *RemuxCache) writeMeta(key string, meta RemuxMeta) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return
	}
	tmp := c.metaPath(key) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, c.metaPath(key))
}

func (c *RemuxCache) isReady(key, fingerprint string) bool {
	if _, err := os.Stat(c.artifactPath(key)); err != nil {
		return false
	}
	meta := c.readMeta(key)
	if meta == nil || meta.Status != "ready" || meta.SourceFingerprint != fingerprint || meta.RemuxVersion != remuxCacheVersion {
		return false
	}
	if meta.ExpiresAtUnix > 0 && time.Now().Unix() >= meta.ExpiresAtUnix {
		_ = os.Remove(c.artifactPath(key))
		_ = os.Remove(c.metaPath(key))
		return false
	}
	return true
}

func (c *RemuxCache) isFailedAndCoolingDown(key, fingerprint string) (bool, string) {
	meta := c.readMeta(key)
	if meta == nil || meta.Status != "failed" || meta.SourceFingerprint != fingerprint || meta.RemuxVersion != remuxCacheVersion {
		return false, ""
	}
	if c.failCooldown <= 0 {
		return false, ""
	}
	age := time.Since(time.Unix(meta.FailedAtUnix, 0))
	if age < c.failCooldown {
		return true, meta.FailureReason
	}
	return false, ""
}

// cleanupStaleLock removes a lock file whose age exceeds the build timeout
// plus a grace period, reclaiming a build slot abandoned by a crashed
// goroutine or process.
func (c *RemuxCache) cleanupStaleLock(key string) {
	info, err := os.Stat(c.lockPath(key))
	if err != nil {
		return
	}
	const staleGrace = 30 * time.Second
	if time.Since(info.ModTime()) <= c.buildTimeout+staleGrace {
		return
	}
	log.Warn().Str("key", key).Msg("removing stale strm remux lock")
	_ = os.Remove(c.lockPath(key))
}

func (c *RemuxCache) acquireLock(key string) bool {
	c.cleanupStaleLock(key)
	f, err := os.OpenFile(c.lockPath(key), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return false
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
	_ = f.Close()
	return true
}

// EnsureArtifact returns a ready remux artifact path for upstreamURL, or a
// fallback decision explaining why the caller should serve upstreamURL
// directly instead. It builds the artifact (via ffmpeg, bounded by the
// concurrency semaphore) synchronously up to buildWait, then hands back a
// "building" fallback if the build is still in flight, matching
// ensure_artifact's synchronous-wait-then-fallback behaviour.
func (c *RemuxCache) EnsureArtifact(ctx context.Context, id Identity, upstreamURL string) RemuxDecision {
	if !c.enabled {
		return RemuxDecision{State: "disabled", FallbackReason: "disabled"}
	}
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return RemuxDecision{State: "failed", FallbackReason: "cache_dir_unwritable"}
	}

	fingerprint := sourceFingerprint(upstreamURL)
	key := remuxCacheKey(id, fingerprint)

	if c.isReady(key, fingerprint) {
		return RemuxDecision{ArtifactPath: c.artifactPath(key), State: "ready"}
	}
	if cooling, reason := c.isFailedAndCoolingDown(key, fingerprint); cooling {
		return RemuxDecision{State: "failed", FallbackReason: reason}
	}

	if c.acquireLock(key) {
		go c.runBuild(key, upstreamURL, fingerprint)
	}

	return c.waitForReady(ctx, key, fingerprint)
}

func (c *RemuxCache) waitForReady(ctx context.Context, key, fingerprint string) RemuxDecision {
	deadline := time.Now().Add(c.buildWait)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if c.isReady(key, fingerprint) {
			return RemuxDecision{ArtifactPath: c.artifactPath(key), State: "ready"}
		}
		if cooling, reason := c.isFailedAndCoolingDown(key, fingerprint); cooling {
			return RemuxDecision{State: "failed", FallbackReason: reason}
		}
		select {
		case <-ctx.Done():
			return RemuxDecision{State: "building", FallbackReason: "cancelled"}
		case <-ticker.C:
		}
	}
	return RemuxDecision{State: "building", FallbackReason: "lock_wait_exceeded"}
}

func (c *RemuxCache) runBuild(key, sourceURL, fingerprint string) {
	if err := c.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer c.sem.Release(1)
	defer func() { _ = os.Remove(c.lockPath(key)) }()

	started := time.Now()
	failureReason, failureErr := c.buildOnce(key, sourceURL)

	if failureReason != "" {
		c.writeMeta(key, RemuxMeta{
			Status: "failed", CacheKey: key, SourceFingerprint: fingerprint,
			RemuxVersion: remuxCacheVersion, FailureReason: failureReason,
			FailureError: failureErr, FailedAtUnix: time.Now().Unix(),
		})
		log.Warn().Str("key", key).Str("reason", failureReason).Dur("elapsed", time.Since(started)).Msg("strm remux build failed")
		_ = os.Remove(c.tempPath(key))
		metrics.RemuxBuilds.WithLabelValues("failed").Inc()
		return
	}

	info, err := os.Stat(c.artifactPath(key))
	var size int64
	if err == nil {
		size = info.Size()
	}
	expiresAt := int64(0)
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl).Unix()
	}
	c.writeMeta(key, RemuxMeta{
		Status: "ready", CacheKey: key, SourceFingerprint: fingerprint,
		RemuxVersion: remuxCacheVersion, BuiltAtUnix: time.Now().Unix(),
		ExpiresAtUnix: expiresAt, ArtifactSizeBytes: size,
	})
	log.Info().Str("key", key).Int64("bytes", size).Dur("elapsed", time.Since(started)).Msg("strm remux build succeeded")
	metrics.RemuxBuilds.WithLabelValues("ready").Inc()
}

// buildOnce invokes ffmpeg to remux sourceURL into an MP4 container with
// stream copy (no transcode), then probes the result with ffprobe before
// publishing it, returning a non-empty failureReason on any problem.
func (c *RemuxCache) buildOnce(key, sourceURL string) (failureReason, failureErr string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.buildTimeout)
	defer cancel()

	_ = os.Remove(c.tempPath(key))
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", sourceURL,
		"-map", "0:v:0", "-map", "0:a?", "-map", "-0:s?", "-map", "-0:d?",
		"-c:v", "copy", "-c:a", "copy",
		"-fflags", "+genpts", "-avoid_negative_ts", "make_zero",
		"-movflags", "+faststart",
		"-f", "mp4", c.tempPath(key),
	)
	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "timeout", "ffmpeg timed out"
	}
	if err != nil {
		trimmed := string(output)
		if len(trimmed) > 1000 {
			trimmed = trimmed[:1000]
		}
		return "ffmpeg_error", trimmed
	}

	info, statErr := os.Stat(c.tempPath(key))
	if statErr != nil || info.Size() <= 0 {
		return "ffmpeg_error", "ffmpeg produced an empty artifact"
	}

	if err := c.probeArtifact(ctx, c.tempPath(key)); err != nil {
		return "probe_invalid", err.Error()
	}

	if err := os.Rename(c.tempPath(key), c.artifactPath(key)); err != nil {
		return "ffmpeg_error", err.Error()
	}
	return "", ""
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	Duration  string `json:"duration"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

// probeArtifact runs ffprobe against the built artifact and rejects it if
// it lacks a video stream or falls below a minimum playable duration,
// matching remux.py's _probe_artifact validity gate.
func (c *RemuxCache) probeArtifact(ctx context.Context, path string) error {
	const minValidDurationSeconds = 30.0

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error", "-show_streams", "-show_format", "-print_format", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return errors.New("ffprobe failed")
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return errors.New("ffprobe produced invalid json")
	}

	hasVideo := false
	var duration float64
	for _, s := range parsed.Streams {
		if s.CodecType == "video" {
			hasVideo = true
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
				duration = d
			}
		}
	}
	if !hasVideo {
		return errors.New("missing video stream")
	}
	if duration == 0 {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			duration = d
		}
	}
	if duration < minValidDurationSeconds {
		return errors.New("duration below threshold")
	}
	return nil
}

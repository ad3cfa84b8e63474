package torznab

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"time"

	"github.com/Zzackllack/AniBridge-sub000/internal/providers"
)

// probeResult is one quality probe's outcome.
type probeResult struct {
	Available bool
	Height    int
	Vcodec    string
	Provider  string
}

// ffprobeStream is the subset of ffprobe's JSON stream report this package
// reads, mirroring internal/strmproxy/remux.go's ffprobeOutput shape.
type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Height    int    `json:"height"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

const probeTimeout = 10 * time.Second

// probeDirectURL runs ffprobe against a resolved direct URL without
// downloading it, extracting the first video stream's height and codec.
// This is the Go-native substitute for the yt-dlp-based
// probe_episode_quality_once: ffprobe can inspect a remote stream's headers
// the same way yt-dlp's info extraction does, without pulling the payload.
func probeDirectURL(ctx context.Context, directURL string) (height int, vcodec string, err error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error", "-show_streams", "-print_format", "json", directURL)
	out, err := cmd.Output()
	if err != nil {
		return 0, "", err
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, "", errors.New("ffprobe produced invalid json")
	}
	for _, s := range parsed.Streams {
		if s.CodecType == "video" {
			return s.Height, s.CodecName, nil
		}
	}
	return 0, "", errors.New("no video stream")
}

// probeEpisodeQuality resolves a direct URL through the provider chain and
// probes it with ffprobe, trying candidates in order and stopping at the
// first that resolves (as probe_episode_quality does); an ffprobe failure
// still reports the episode available, with height and codec unknown.
func probeEpisodeQuality(ctx context.Context, registry *providers.Registry, ep providers.Episode, preferred, language string) probeResult {
	directURL, providerUsed, err := registry.GetDirectURLWithFallback(ctx, ep, preferred, language)
	if err != nil || directURL == "" {
		return probeResult{}
	}

	height, vcodec, err := probeDirectURL(ctx, directURL)
	if err != nil {
		return probeResult{Available: true, Provider: providerUsed}
	}
	return probeResult{Available: true, Height: height, Vcodec: vcodec, Provider: providerUsed}
}


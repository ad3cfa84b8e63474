// Package background runs AniBridge's long-lived maintenance loops outside
// the request/response and Job-execution paths: TTL cleanup of stale
// downloads, a public-IP reachability log, megakino mirror-domain
// resolution/revalidation, and a startup update check against GitHub/GHCR.
// Grounded on original_source/app/core/lifespan.py's background-thread
// startup block, original_source/app/utils/domain_resolver.py,
// original_source/app/infrastructure/network.py and
// original_source/app/utils/update_notifier.py, translated from
// threading.Event-gated loops to context.Context-cancelled goroutines
// coordinated by golang.org/x/sync/errgroup.
package background

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// mediaExtensions are the file suffixes the TTL sweep considers downloads,
// matching _start_ttl_cleanup_thread's tracked extension set.
var mediaExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".avi": true, ".m4v": true,
}

// Config collects the environment knobs the background services read,
// mirroring the subset of config.Config that lifespan.py's startup block
// consults.
type Config struct {
	DownloadDir            string
	DownloadsTTLHours      int
	CleanupScanIntervalMin int

	PublicIPCheckEnabled     bool
	PublicIPCheckIntervalMin int

	MegakinoCandidates       []string
	MegakinoCheckIntervalMin int

	GithubOwner string
	GithubRepo  string
	GhcrImage   string
	Version     string
}

// Services runs every enabled loop until its context is cancelled.
type Services struct {
	cfg    Config
	client *http.Client
}

// New constructs Services. client may be nil, in which case
// http.DefaultClient is used.
func New(cfg Config, client *http.Client) *Services {
	if client == nil {
		client = http.DefaultClient
	}
	return &Services{cfg: cfg, client: client}
}

// Run starts every enabled loop and blocks until ctx is cancelled and every
// loop has exited. Each loop logs and swallows its own errors rather than
// aborting its siblings, matching lifespan.py's per-component try/except
// around each background thread start.
func (s *Services) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.DownloadsTTLHours > 0 {
		g.Go(func() error {
			s.runTTLCleanup(ctx)
			return nil
		})
	}
	if s.cfg.PublicIPCheckEnabled {
		g.Go(func() error {
			s.runPublicIPCheck(ctx)
			return nil
		})
	}
	if len(s.cfg.MegakinoCandidates) > 0 {
		g.Go(func() error {
			s.runMegakinoDomainCheck(ctx)
			return nil
		})
	}
	g.Go(func() error {
		s.runStartupUpdateCheck(ctx)
		return nil
	})

	return g.Wait()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// runTTLCleanup sweeps DownloadDir every CleanupScanIntervalMin, deleting
// tracked-extension files past their TTL and pruning dirs left empty,
// matching _start_ttl_cleanup_thread's two-pass walk.
func (s *Services) runTTLCleanup(ctx context.Context) {
	interval := time.Duration(maxInt(1, s.cfg.CleanupScanIntervalMin)) * time.Minute
	ttl := time.Duration(s.cfg.DownloadsTTLHours) * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanupOnce(s.cfg.DownloadDir, ttl)
		}
	}
}

func cleanupOnce(root string, ttl time.Duration) {
	now := time.Now()
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !mediaExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil || now.Sub(info.ModTime()) < ttl {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil {
			log.Warn().Err(rmErr).Str("path", path).Msg("ttl cleanup: failed to remove stale download")
			return nil
		}
		log.Info().Str("path", path).Msg("ttl cleanup: removed stale download")
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("dir", root).Msg("ttl cleanup: walk failed")
		return
	}
	pruneEmptyDirs(root)
}

// pruneEmptyDirs removes now-empty leaf directories under root, walked
// bottom-up, matching the second topdown=False pass in
// _start_ttl_cleanup_thread.
func pruneEmptyDirs(root string) {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil || len(entries) > 0 {
			continue
		}
		_ = os.Remove(dirs[i])
	}
}

// publicIPEndpoints are tried in order, matching _fetch_public_ip's
// ipify -> ifconfig.me -> ipinfo.io fallback chain.
var publicIPEndpoints = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://ipinfo.io/ip",
}

func (s *Services) fetchPublicIP(ctx context.Context) (string, error) {
	var lastErr error
	for _, endpoint := range publicIPEndpoints {
		ip, err := s.fetchPublicIPFrom(ctx, endpoint)
		if err != nil {
			lastErr = err
			continue
		}
		if ip != "" {
			return ip, nil
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no public ip endpoint returned a value")
	}
	return "", lastErr
}

func (s *Services) fetchPublicIPFrom(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// runPublicIPCheck logs the process's public IP immediately and then every
// PublicIPCheckIntervalMin, matching start_ip_check_thread.
func (s *Services) runPublicIPCheck(ctx context.Context) {
	interval := time.Duration(maxInt(1, s.cfg.PublicIPCheckIntervalMin)) * time.Minute
	check := func() {
		ip, err := s.fetchPublicIP(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("public ip check failed")
			return
		}
		log.Info().Str("public_ip", ip).Msg("public ip check")
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func normalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return strings.TrimRight(domain, "/")
}

// followRedirects performs a GET against base and reports the scheme/host
// the client ultimately landed on, matching fetch_megakino_domain's
// redirect-following mirror discovery.
func (s *Services) followRedirects(ctx context.Context, base string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	final := resp.Request.URL
	return fmt.Sprintf("%s://%s", final.Scheme, final.Host), nil
}

// probeTokenEndpoint checks that base still serves its token-gated index
// endpoint, matching check_megakino_domain_validity. Any non-5xx response
// counts as a valid mirror.
func (s *Services) probeTokenEndpoint(ctx context.Context, base string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/index.php?yg=anibridge-probe", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// ResolveMegakinoBaseURL tries each configured candidate domain in order,
// following redirects and validating the final mirror's token endpoint,
// matching resolve_megakino_base_url's resolution order.
func (s *Services) ResolveMegakinoBaseURL(ctx context.Context) (string, error) {
	for _, candidate := range s.cfg.MegakinoCandidates {
		base := normalizeDomain(candidate)
		finalBase, err := s.followRedirects(ctx, base)
		if err != nil {
			continue
		}
		if s.probeTokenEndpoint(ctx, finalBase) {
			return finalBase, nil
		}
	}
	return "", errors.New("no megakino candidate domain resolved to a valid mirror")
}

// runMegakinoDomainCheck resolves the megakino mirror immediately and then
// re-validates it every MegakinoCheckIntervalMin, matching
// start_megakino_domain_check_thread.
func (s *Services) runMegakinoDomainCheck(ctx context.Context) {
	interval := time.Duration(maxInt(1, s.cfg.MegakinoCheckIntervalMin)) * time.Minute
	resolveOnce := func() {
		base, err := s.ResolveMegakinoBaseURL(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("megakino domain resolution failed")
			return
		}
		log.Info().Str("base_url", base).Msg("megakino domain resolved")
	}

	resolveOnce()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolveOnce()
		}
	}
}

type githubRelease struct {
	TagName string `json:"tag_name"`
}

type githubTag struct {
	Name string `json:"name"`
}

func (s *Services) fetchGithubJSON(ctx context.Context, url string, parse func([]byte) (string, error)) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if token := os.Getenv("ANIBRIDGE_GITHUB_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("github api returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return parse(body)
}

// fetchLatestGithubVersion tries the releases API first, falling back to
// the tags API, matching fetch_latest_github_release's own fallback.
func (s *Services) fetchLatestGithubVersion(ctx context.Context) (string, error) {
	releasesURL := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", s.cfg.GithubOwner, s.cfg.GithubRepo)
	version, err := s.fetchGithubJSON(ctx, releasesURL, func(body []byte) (string, error) {
		var rel githubRelease
		if jsonErr := json.Unmarshal(body, &rel); jsonErr != nil {
			return "", jsonErr
		}
		if rel.TagName == "" {
			return "", errors.New("no tag_name in release response")
		}
		return rel.TagName, nil
	})
	if err == nil {
		return version, nil
	}

	tagsURL := fmt.Sprintf("https://api.github.com/repos/%s/%s/tags", s.cfg.GithubOwner, s.cfg.GithubRepo)
	return s.fetchGithubJSON(ctx, tagsURL, func(body []byte) (string, error) {
		var tags []githubTag
		if jsonErr := json.Unmarshal(body, &tags); jsonErr != nil {
			return "", jsonErr
		}
		if len(tags) == 0 {
			return "", errors.New("no tags found")
		}
		return tags[0].Name, nil
	})
}

type ghcrTagsResponse struct {
	Tags []string `json:"tags"`
}

var semverLike = regexp.MustCompile(`^v?\d+\.\d+\.\d+$`)

// fetchLatestGhcrTag lists a GHCR image's tags and returns the highest
// semver-looking one, matching try_fetch_latest_ghcr_tag.
func (s *Services) fetchLatestGhcrTag(ctx context.Context) (string, error) {
	url := fmt.Sprintf("https://ghcr.io/v2/%s/tags/list", s.cfg.GhcrImage)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ghcr returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var parsed ghcrTagsResponse
	if jsonErr := json.Unmarshal(body, &parsed); jsonErr != nil {
		return "", jsonErr
	}

	best := ""
	for _, tag := range parsed.Tags {
		if semverLike.MatchString(tag) && (best == "" || compareVersions(tag, best) > 0) {
			best = tag
		}
	}
	if best == "" {
		return "", errors.New("no semver-looking ghcr tag found")
	}
	return best, nil
}

// compareVersions compares two "vX.Y.Z"-ish strings numerically, falling
// back to a lexicographic compare on parse failure, matching
// _compare_versions's packaging.version-or-string-compare fallback.
func compareVersions(a, b string) int {
	pa, oka := parseSemver(a)
	pb, okb := parseSemver(b)
	if !oka || !okb {
		return strings.Compare(a, b)
	}
	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			if pa[i] > pb[i] {
				return 1
			}
			return -1
		}
	}
	return 0
}

func parseSemver(v string) ([3]int, bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	parts := strings.SplitN(v, ".", 3)
	if len(parts) != 3 {
		return [3]int{}, false
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return [3]int{}, false
		}
		out[i] = n
	}
	return out, true
}

// runStartupUpdateCheck runs once: checks GitHub releases (falling back to
// tags) then GHCR tags, logging when a newer version is available,
// matching notify_on_startup.
func (s *Services) runStartupUpdateCheck(ctx context.Context) {
	if strings.TrimSpace(s.cfg.GithubOwner) == "" || strings.TrimSpace(s.cfg.GithubRepo) == "" {
		return
	}

	if latest, err := s.fetchLatestGithubVersion(ctx); err != nil {
		log.Warn().Err(err).Msg("update check: github lookup failed")
	} else if compareVersions(latest, s.cfg.Version) > 0 {
		log.Warn().Str("current", s.cfg.Version).Str("latest", latest).Msg("a newer AniBridge release is available on GitHub")
	} else {
		log.Info().Str("current", s.cfg.Version).Str("latest", latest).Msg("AniBridge is up to date with the latest GitHub release")
	}

	if strings.TrimSpace(s.cfg.GhcrImage) == "" {
		return
	}
	if latest, err := s.fetchLatestGhcrTag(ctx); err != nil {
		log.Debug().Err(err).Msg("update check: ghcr lookup failed")
	} else if compareVersions(latest, s.cfg.Version) > 0 {
		log.Warn().Str("current", s.cfg.Version).Str("latest_ghcr_tag", latest).Msg("a newer AniBridge image tag is available on GHCR")
	}
}

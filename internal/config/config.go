// Package config collapses AniBridge's environment-variable surface into one
// struct built once at startup, following the shape of the teacher's
// server/config/config.go (Load + Validate) generalized to every variable in
// the specification's environment-variable table.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StrmFilesMode controls whether Torznab emits real releases, STRM-tagged
// releases, or both for a given episode/language.
type StrmFilesMode string

const (
	StrmFilesNo   StrmFilesMode = "no"
	StrmFilesOnly StrmFilesMode = "only"
	StrmFilesBoth StrmFilesMode = "both"
)

// StrmProxyMode selects the STRM proxy mode. In proxy mode the scheduler
// also records the resolved upstream URL in the STRM URL mapping table; the
// .strm file itself holds the direct upstream URL in both modes.
type StrmProxyMode string

const (
	StrmProxyModeDirect StrmProxyMode = "direct"
	StrmProxyModeProxy  StrmProxyMode = "proxy"
)

// StrmProxyAuthMode selects the STRM proxy's authentication scheme.
type StrmProxyAuthMode string

const (
	StrmProxyAuthNone   StrmProxyAuthMode = "none"
	StrmProxyAuthAPIKey StrmProxyAuthMode = "apikey"
	StrmProxyAuthToken  StrmProxyAuthMode = "token"
)

// Config is the process-wide, immutable configuration snapshot.
type Config struct {
	Addr string

	MaxConcurrency int
	ProviderOrder  []string

	DownloadDir        string
	DataDir            string
	QbitPublicSavePath string

	AvailabilityTTLHours  int
	TitlesRefreshHours    int
	DownloadsTTLHours     int
	CleanupScanIntervalMin int

	IndexerAPIKey                         string
	IndexerName                           string
	TorznabCatAnime                       int
	TorznabCatMovie                       int
	TorznabFakeSeeders                    int
	TorznabFakeLeechers                   int
	TorznabReturnTestResult               bool
	TorznabTestTitle                      string
	TorznabTestSlug                       string
	TorznabTestSeason                     int
	TorznabTestEpisode                    int
	TorznabTestLanguage                   string
	TorznabSeasonSearchMaxEpisodes        int
	TorznabSeasonSearchMaxConsecutiveMiss int

	SourceTag    string
	ReleaseGroup string

	StrmFilesMode             StrmFilesMode
	StrmProxyMode             StrmProxyMode
	StrmPublicBaseURL         string
	StrmProxyAuth             StrmProxyAuthMode
	StrmProxySecret           string
	StrmProxyTokenTTLSeconds  int
	StrmProxyCacheTTLSeconds  int
	StrmProxyHLSRemuxEnabled  bool
	StrmProxyHLSRemuxTimeout  time.Duration
	StrmProxyHLSRemuxCooldown time.Duration
	StrmProxyHLSRemuxMaxBuild int

	ProxyEnabled              bool
	ProxyScope                string
	PublicIPCheckEnabled      bool
	PublicIPCheckIntervalMin  int

	DownloadRateLimitBytesPerSec int64

	GithubOwner              string
	GithubRepo               string
	GhcrImage                string
	MegakinoCandidates       []string
	MegakinoCheckIntervalMin int

	SpecialsMetadataEnabled           bool
	SpecialsMatchConfidenceThreshold  float64
	SpecialsMetadataTimeoutSeconds    int
	SpecialsMetadataCacheTTLMinutes   int

	TestMode bool

	LogLevel string
	Env      string
}

// GetEnv returns the environment variable value for key, or def if unset.
func GetEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return n
}

func splitNonEmpty(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Load builds a Config from the process environment. It never exits the
// process; callers must call Validate and handle config-fatal errors
// themselves so startup failures produce a clean, listed message.
func Load() *Config {
	providerOrder := strings.Split(GetEnv("PROVIDER_ORDER", "VOE,Vidoza,Streamtape,Doodstream"), ",")
	for i := range providerOrder {
		providerOrder[i] = strings.TrimSpace(providerOrder[i])
	}

	return &Config{
		Addr: GetEnv("ADDR", ":8080"),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 2),
		ProviderOrder:  providerOrder,

		DownloadDir:        GetEnv("DOWNLOAD_DIR", "./downloads"),
		DataDir:            GetEnv("DATA_DIR", "./data"),
		QbitPublicSavePath: GetEnv("QBIT_PUBLIC_SAVE_PATH", ""),

		AvailabilityTTLHours:   getEnvInt("AVAILABILITY_TTL_HOURS", 6),
		TitlesRefreshHours:     getEnvInt("TITLES_REFRESH_HOURS", 24),
		DownloadsTTLHours:      getEnvInt("DOWNLOADS_TTL_HOURS", 0),
		CleanupScanIntervalMin: getEnvInt("CLEANUP_SCAN_INTERVAL_MIN", 60),

		IndexerAPIKey:                          GetEnv("INDEXER_API_KEY", ""),
		IndexerName:                            GetEnv("INDEXER_NAME", "AniBridge"),
		TorznabCatAnime:                         getEnvInt("TORZNAB_CAT_ANIME", 5070),
		TorznabCatMovie:                         getEnvInt("TORZNAB_CAT_MOVIE", 2000),
		TorznabFakeSeeders:                      getEnvInt("TORZNAB_FAKE_SEEDERS", 50),
		TorznabFakeLeechers:                     getEnvInt("TORZNAB_FAKE_LEECHERS", 0),
		TorznabReturnTestResult:                 getEnvBool("TORZNAB_RETURN_TEST_RESULT", true),
		TorznabTestTitle:                        GetEnv("TORZNAB_TEST_TITLE", "AniBridge Connectivity Test S01E01"),
		TorznabTestSlug:                         GetEnv("TORZNAB_TEST_SLUG", "test-slug"),
		TorznabTestSeason:                       getEnvInt("TORZNAB_TEST_SEASON", 1),
		TorznabTestEpisode:                      getEnvInt("TORZNAB_TEST_EPISODE", 1),
		TorznabTestLanguage:                     GetEnv("TORZNAB_TEST_LANGUAGE", "German Dub"),
		TorznabSeasonSearchMaxEpisodes:          getEnvInt("TORZNAB_SEASON_SEARCH_MAX_EPISODES", 50),
		TorznabSeasonSearchMaxConsecutiveMiss:   getEnvInt("TORZNAB_SEASON_SEARCH_MAX_CONSECUTIVE_MISSES", 3),

		SourceTag:    GetEnv("SOURCE_TAG", "WEB"),
		ReleaseGroup: GetEnv("RELEASE_GROUP", "AniBridge"),

		StrmFilesMode:             StrmFilesMode(GetEnv("STRM_FILES_MODE", string(StrmFilesNo))),
		StrmProxyMode:             StrmProxyMode(GetEnv("STRM_PROXY_MODE", string(StrmProxyModeDirect))),
		StrmPublicBaseURL:         GetEnv("STRM_PUBLIC_BASE_URL", ""),
		StrmProxyAuth:             StrmProxyAuthMode(GetEnv("STRM_PROXY_AUTH", string(StrmProxyAuthNone))),
		StrmProxySecret:           GetEnv("STRM_PROXY_SECRET", ""),
		StrmProxyTokenTTLSeconds:  getEnvInt("STRM_PROXY_TOKEN_TTL_SECONDS", 3600),
		StrmProxyCacheTTLSeconds:  getEnvInt("STRM_PROXY_CACHE_TTL_SECONDS", 1800),
		StrmProxyHLSRemuxEnabled:  getEnvBool("STRM_PROXY_HLS_REMUX_ENABLED", false),
		StrmProxyHLSRemuxTimeout:  time.Duration(getEnvInt("STRM_PROXY_HLS_REMUX_TIMEOUT_SECONDS", 120)) * time.Second,
		StrmProxyHLSRemuxCooldown: time.Duration(getEnvInt("STRM_PROXY_HLS_REMUX_FAILURE_COOLDOWN_SECONDS", 300)) * time.Second,
		StrmProxyHLSRemuxMaxBuild: getEnvInt("STRM_PROXY_HLS_REMUX_MAX_CONCURRENT_BUILDS", 2),

		ProxyEnabled:             getEnvBool("PROXY_ENABLED", false),
		ProxyScope:               GetEnv("PROXY_SCOPE", "all"),
		PublicIPCheckEnabled:     getEnvBool("PUBLIC_IP_CHECK_ENABLED", false),
		PublicIPCheckIntervalMin: getEnvInt("PUBLIC_IP_CHECK_INTERVAL_MIN", 15),

		DownloadRateLimitBytesPerSec: getEnvInt64("DOWNLOAD_RATE_LIMIT_BYTES_PER_SEC", 0),

		GithubOwner:              GetEnv("ANIBRIDGE_GITHUB_OWNER", "zzackllack"),
		GithubRepo:               GetEnv("ANIBRIDGE_GITHUB_REPO", "AniBridge"),
		GhcrImage:                GetEnv("ANIBRIDGE_GHCR_IMAGE", "zzackllack/anibridge"),
		MegakinoCandidates:       splitNonEmpty(GetEnv("MEGAKINO_CANDIDATE_DOMAINS", "megakino.lol,megakino.cx,megakino.ms,megakino.video,megakino.to")),
		MegakinoCheckIntervalMin: getEnvInt("MEGAKINO_CHECK_INTERVAL_MIN", 60),

		SpecialsMetadataEnabled:          getEnvBool("SPECIALS_METADATA_ENABLED", false),
		SpecialsMatchConfidenceThreshold: getEnvFloat("SPECIALS_MATCH_CONFIDENCE_THRESHOLD", 0.72),
		SpecialsMetadataTimeoutSeconds:   getEnvInt("SPECIALS_METADATA_TIMEOUT_SECONDS", 10),
		SpecialsMetadataCacheTTLMinutes:  getEnvInt("SPECIALS_METADATA_CACHE_TTL_MINUTES", 60),

		TestMode: getEnvBool("ANIBRIDGE_TEST_MODE", false),

		LogLevel: GetEnv("LOG_LEVEL", "info"),
		Env:      GetEnv("ENV", "production"),
	}
}

// Validate rejects invalid combinations before any server starts, per the
// specification's config-fatal error kind. It does not check filesystem
// writability; callers should pair Validate with EnsureWritableDirs.
func (c *Config) Validate() error {
	var problems []string

	if c.MaxConcurrency < 1 {
		problems = append(problems, "MAX_CONCURRENCY must be >= 1")
	}
	switch c.StrmFilesMode {
	case StrmFilesNo, StrmFilesOnly, StrmFilesBoth:
	default:
		problems = append(problems, fmt.Sprintf("STRM_FILES_MODE must be one of no|only|both, got %q", c.StrmFilesMode))
	}
	switch c.StrmProxyMode {
	case StrmProxyModeDirect, StrmProxyModeProxy:
	default:
		problems = append(problems, fmt.Sprintf("STRM_PROXY_MODE must be one of direct|proxy, got %q", c.StrmProxyMode))
	}
	switch c.StrmProxyAuth {
	case StrmProxyAuthNone:
	case StrmProxyAuthAPIKey, StrmProxyAuthToken:
		if strings.TrimSpace(c.StrmProxySecret) == "" {
			problems = append(problems, fmt.Sprintf("STRM_PROXY_AUTH=%s requires STRM_PROXY_SECRET", c.StrmProxyAuth))
		}
	default:
		problems = append(problems, fmt.Sprintf("STRM_PROXY_AUTH must be one of none|apikey|token, got %q", c.StrmProxyAuth))
	}
	if c.StrmProxyMode == StrmProxyModeProxy && strings.TrimSpace(c.StrmPublicBaseURL) == "" {
		problems = append(problems, "STRM_PROXY_MODE=proxy requires STRM_PUBLIC_BASE_URL")
	}
	if len(c.ProviderOrder) == 0 || (len(c.ProviderOrder) == 1 && c.ProviderOrder[0] == "") {
		problems = append(problems, "PROVIDER_ORDER must name at least one provider")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// EnsureWritableDirs creates (if needed) and probes the data and download
// directories for writability, returning a config-fatal error listing every
// path that failed, per spec §6's exit-code contract.
func (c *Config) EnsureWritableDirs() error {
	var failed []string
	for _, dir := range []string{c.DataDir, c.DownloadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			failed = append(failed, dir)
			continue
		}
		probe := dir + "/.anibridge-write-probe"
		if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
			failed = append(failed, dir)
			continue
		}
		_ = os.Remove(probe)
	}
	if len(failed) > 0 {
		return fmt.Errorf("directories not writable: %s", strings.Join(failed, ", "))
	}
	return nil
}

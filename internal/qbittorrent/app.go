package qbittorrent

import (
	"encoding/json"
	"net/http"
)

const (
	appVersion    = "4.6.0"
	webAPIVersion = "2.8.18"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(appVersion))
}

func (h *Handlers) handleWebAPIVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(webAPIVersion))
}

func (h *Handlers) handleBuildInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"qt":         "5.15.2",
		"libtorrent": "1.2.14.0",
		"boost":      "1.75.0",
		"openssl":    "1.1.1",
		"zlib":       "1.2.11",
		"bitness":    64,
	})
}

// handlePreferences returns just enough of qBittorrent's preferences
// surface for Sonarr/Prowlarr's client-health checks: save_path,
// category-mode flags and harmless UI defaults.
func (h *Handlers) handlePreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"save_path":                  h.savePath(""),
		"temp_path_enabled":          false,
		"autorun_enabled":            false,
		"max_active_downloads":       h.cfg.MaxConcurrency,
		"queueing_enabled":           false,
		"category_changed_tmm_enabled": false,
		"torrent_changed_tmm_enabled":  false,
		"save_path_changed_tmm_enabled": false,
		"locale":                     "en",
		"web_ui_clickjacking_protection_enabled": false,
	})
}

package qbittorrent

import "net/http"

// handleMainData answers sync/maindata, the endpoint Sonarr/Prowlarr poll
// to refresh their whole view of the client's torrent set in one call.
func (h *Handlers) handleMainData(w http.ResponseWriter, r *http.Request) {
	tasks, err := taskList(r, h)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	torrents := make(map[string]any, len(tasks))
	for _, t := range tasks {
		torrents[t.Hash] = h.projectTorrent(r, t)
	}

	writeJSON(w, map[string]any{
		"rid":          1,
		"full_update":  true,
		"server_state": map[string]any{"connection_status": "connected", "dl_info_speed": 0, "up_info_speed": 0},
		"torrents":     torrents,
		"categories":   h.categories.snapshot(),
	})
}

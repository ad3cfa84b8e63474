package qbittorrent

import "net/http"

func (h *Handlers) handleTransferInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"dl_info_speed":    0,
		"dl_info_data":     0,
		"up_info_speed":    0,
		"up_info_data":     0,
		"dl_rate_limit":    0,
		"up_rate_limit":    0,
		"connection_status": "connected",
	})
}

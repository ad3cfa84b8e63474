package qbittorrent

import "net/http"

// handleLogin accepts any credentials and issues the fixed session cookie,
// matching the "auth (accept-all with a fixed cookie)" behavior.
func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "SID", Value: SID, Path: "/"})
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("Ok."))
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "SID", Value: "", Path: "/", MaxAge: -1})
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("Ok."))
}

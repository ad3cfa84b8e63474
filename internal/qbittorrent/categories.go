package qbittorrent

import (
	"net/http"
	"strings"
)

func (h *Handlers) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.categories.snapshot())
}

func (h *Handlers) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := r.Form.Get("category")
	if name == "" {
		http.Error(w, "missing category", http.StatusBadRequest)
		return
	}
	h.categories.upsert(Category{Name: name, SavePath: r.Form.Get("savePath")})
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) handleEditCategory(w http.ResponseWriter, r *http.Request) {
	h.handleCreateCategory(w, r)
}

func (h *Handlers) handleRemoveCategories(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	names := strings.Split(r.Form.Get("categories"), "\n")
	h.categories.remove(names)
	w.WriteHeader(http.StatusOK)
}

package qbittorrent

import (
	"database/sql"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Zzackllack/AniBridge-sub000/internal/magnet"
	"github.com/Zzackllack/AniBridge-sub000/internal/models"
	"github.com/Zzackllack/AniBridge-sub000/internal/scheduler"
)

// decodedMagnet is the set of fields torrents/add needs out of a magnet
// built by internal/magnet, recovered by scanning Parse's flat map for
// known parameter-name suffixes instead of hardcoding a site prefix.
type decodedMagnet struct {
	Title    string
	Slug     string
	Season   int
	Episode  int
	Language string
	Provider string
	Site     string
	Mode     string
	Hash     string
}

func decodeMagnet(uri string) (decodedMagnet, error) {
	flat, err := magnet.Parse(uri)
	if err != nil {
		return decodedMagnet{}, err
	}

	var d decodedMagnet
	d.Title = flat["dn"]
	d.Mode = flat["mode"]
	for k, v := range flat {
		switch {
		case strings.HasSuffix(k, "_slug"):
			d.Slug = v
		case strings.HasSuffix(k, "_s"):
			d.Season, _ = strconv.Atoi(v)
		case strings.HasSuffix(k, "_e"):
			d.Episode, _ = strconv.Atoi(v)
		case strings.HasSuffix(k, "_lang"):
			d.Language = v
		case strings.HasSuffix(k, "_provider"):
			d.Provider = v
		case strings.HasSuffix(k, "_site"):
			d.Site = v
		}
	}
	if xt, ok := flat["xt"]; ok {
		d.Hash = strings.TrimPrefix(xt, "urn:btih:")
	}
	return d, nil
}

// handleAdd decodes the submitted magnet, schedules a Job and records a
// ClientTask keyed by the magnet's BTIH so later info/files/properties/
// delete calls can find it again.
func (h *Handlers) handleAdd(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		_ = r.ParseForm()
	}
	urls := strings.TrimSpace(r.Form.Get("urls"))
	if urls == "" {
		http.Error(w, "missing urls", http.StatusBadRequest)
		return
	}

	category := r.Form.Get("category")
	ctx := r.Context()

	for _, one := range strings.Split(urls, "\n") {
		one = strings.TrimSpace(one)
		if one == "" {
			continue
		}
		d, err := decodeMagnet(one)
		if err != nil {
			http.Error(w, "invalid magnet: "+err.Error(), http.StatusBadRequest)
			return
		}

		jobID, err := h.scheduler.Schedule(ctx, scheduler.Request{
			Slug:      d.Slug,
			Season:    d.Season,
			Episode:   d.Episode,
			Language:  d.Language,
			Provider:  d.Provider,
			TitleHint: d.Title,
			Site:      d.Site,
			Mode:      d.Mode,
		})
		if err != nil {
			log.Error().Err(err).Str("slug", d.Slug).Msg("failed to schedule job from torrents/add")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		name := d.Title
		if name == "" {
			name = d.Slug
		}
		task := models.ClientTask{
			Hash:     d.Hash,
			Name:     name,
			Slug:     d.Slug,
			Season:   d.Season,
			Episode:  d.Episode,
			Language: d.Language,
			Site:     d.Site,
			JobID:    sql.NullString{String: jobID, Valid: jobID != ""},
			Category: sql.NullString{String: category, Valid: category != ""},
			AddedOn:  h.now(),
			State:    "downloading",
		}
		if err := models.UpsertClientTask(ctx, h.db, task); err != nil {
			log.Error().Err(err).Str("hash", d.Hash).Msg("failed to upsert client task")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("Ok."))
}

// qbitState projects a Job's lifecycle status into qBittorrent's state
// vocabulary, matching the wire contract Sonarr/Prowlarr's download client
// polling expects.
func qbitState(status models.JobStatus) string {
	switch status {
	case models.JobDownloading, models.JobQueued:
		return "downloading"
	case models.JobCompleted:
		return "uploading"
	case models.JobFailed:
		return "error"
	case models.JobCancelled:
		return "pausedDL"
	default:
		return "unknown"
	}
}

// projectTorrent builds one torrents/info entry by joining a ClientTask
// with its backing Job.
func (h *Handlers) projectTorrent(r *http.Request, task *models.ClientTask) map[string]any {
	ctx := r.Context()
	state := task.State
	progress := 0.0
	dlspeed := int64(0)
	eta := int64(8640000)
	var size int64
	var contentPath string
	savePath := h.savePath("")
	completionOn := int64(-1)
	if task.CompletionOn.Valid {
		completionOn = task.CompletionOn.Time.Unix()
	}

	if task.JobID.Valid {
		job, err := models.GetJob(ctx, h.db, task.JobID.String)
		if err == nil && job != nil {
			state = qbitState(job.Status)
			progress = job.Progress / 100
			if job.Speed.Valid {
				dlspeed = int64(job.Speed.Float64)
			}
			if job.ETA.Valid {
				eta = job.ETA.Int64
			}
			if job.ResultPath.Valid {
				contentPath = h.savePath(job.ResultPath.String)
				savePath = contentPath
				if info, statErr := os.Stat(job.ResultPath.String); statErr == nil {
					size = info.Size()
				}
			}
			if job.Status == models.JobCompleted && !task.CompletionOn.Valid {
				when := h.now()
				if err := models.SetClientTaskCompletion(ctx, h.db, task.Hash, when); err == nil {
					completionOn = when.Unix()
				}
			}
		}
	}

	out := map[string]any{
		"hash":          task.Hash,
		"name":          task.Name,
		"state":         state,
		"progress":      progress,
		"dlspeed":       dlspeed,
		"upspeed":       0,
		"eta":           eta,
		"category":      task.Category.String,
		"save_path":     savePath,
		"content_path":  contentPath,
		"added_on":      task.AddedOn.Unix(),
		"completion_on": completionOn,
		"size":          size,
		"num_seeds":     0,
		"num_leechs":    0,
	}
	if task.AbsoluteNumber.Valid {
		out["anibridgeAbsolute"] = task.AbsoluteNumber.Int64
	}
	return out
}

func taskList(r *http.Request, h *Handlers) ([]*models.ClientTask, error) {
	return models.ListClientTasks(r.Context(), h.db)
}

func (h *Handlers) handleInfo(w http.ResponseWriter, r *http.Request) {
	tasks, err := taskList(r, h)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	filterHash := r.URL.Query().Get("hashes")
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		if filterHash != "" && !strings.Contains(filterHash, t.Hash) {
			continue
		}
		out = append(out, h.projectTorrent(r, t))
	}
	writeJSON(w, out)
}

func (h *Handlers) handleFiles(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	task, err := models.GetClientTask(r.Context(), h.db, hash)
	if err != nil || task == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	name := task.Name + ".mkv"
	size := int64(0)
	progress := 0.0
	if task.JobID.Valid {
		if job, err := models.GetJob(r.Context(), h.db, task.JobID.String); err == nil && job != nil {
			progress = job.Progress / 100
			if job.ResultPath.Valid {
				if info, statErr := os.Stat(job.ResultPath.String); statErr == nil {
					size = info.Size()
				}
			}
		}
	}

	writeJSON(w, []map[string]any{{
		"name":         name,
		"size":         size,
		"progress":     progress,
		"priority":     1,
		"is_seed":      false,
		"piece_range":  []int{0, 0},
		"availability": 1,
	}})
}

func (h *Handlers) handleProperties(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	task, err := models.GetClientTask(r.Context(), h.db, hash)
	if err != nil || task == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	props := h.projectTorrent(r, task)
	writeJSON(w, map[string]any{
		"save_path":        props["save_path"],
		"creation_date":    task.AddedOn.Unix(),
		"piece_size":       0,
		"comment":          "",
		"total_wasted":     0,
		"total_uploaded":   0,
		"total_downloaded": props["size"],
		"up_limit":         -1,
		"dl_limit":         -1,
		"time_elapsed":     int64(time.Since(task.AddedOn).Seconds()),
		"seeding_time":     0,
		"nb_connections":   0,
		"share_ratio":      0,
	})
}

func (h *Handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hashes := strings.Split(r.Form.Get("hashes"), "|")
	deleteFiles := r.Form.Get("deleteFiles") == "true"
	ctx := r.Context()

	for _, hash := range hashes {
		hash = strings.TrimSpace(hash)
		if hash == "" {
			continue
		}
		task, err := models.GetClientTask(ctx, h.db, hash)
		if err != nil || task == nil {
			continue
		}
		if task.JobID.Valid {
			h.scheduler.Cancel(task.JobID.String)
			if deleteFiles {
				if job, err := models.GetJob(ctx, h.db, task.JobID.String); err == nil && job != nil && job.ResultPath.Valid {
					_ = os.Remove(job.ResultPath.String)
				}
			}
		}
		if err := models.DeleteClientTask(ctx, h.db, hash); err != nil {
			log.Error().Err(err).Str("hash", hash).Msg("failed to delete client task")
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("Ok."))
}

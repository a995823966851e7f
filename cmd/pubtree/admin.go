package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pubtree/cache"
	"github.com/hazyhaar/pubtree/notify"
	"github.com/hazyhaar/pubtree/store"
)

// newRouter builds the admin HTTP surface. It is an operational interface,
// not the request path: health, stats, drift checks, maintenance triggers,
// and the inbound end of the change-notification channel.
func newRouter(c *cache.Cache, st *store.Store, bus *notify.Bus, cfg *cache.Config) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"status": "ok", "nodes": c.Get().Len()})
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, c.Stats())
	})

	r.Get("/verify", func(w http.ResponseWriter, req *http.Request) {
		ok, err := st.VerifyAll(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"consistent": ok})
	})

	r.Post("/rebuild", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			PageSize int      `json:"page_size"`
			Types    []string `json:"types"`
		}
		if req.ContentLength > 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid json")
				return
			}
		}
		if body.PageSize <= 0 {
			body.PageSize = cfg.RebuildPageSize
		}
		if err := st.Rebuild(req.Context(), body.PageSize, body.Types...); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"status": "rebuilt"})
	})

	r.Post("/reload", func(w http.ResponseWriter, req *http.Request) {
		if err := c.Reload(req.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"status": "reloaded", "nodes": c.Get().Len()})
	})

	r.Post("/snapshot", func(w http.ResponseWriter, _ *http.Request) {
		if err := c.SaveSnapshot(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"status": "saved"})
	})

	// Inbound end of the change-notification channel: content writers POST
	// batches of payloads here.
	r.Post("/notify", func(w http.ResponseWriter, req *http.Request) {
		var batch []notifyPayload
		if err := json.NewDecoder(req.Body).Decode(&batch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		payloads := make([]notify.Payload, 0, len(batch))
		for _, p := range batch {
			kind, ok := parseKind(p.Kind)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown kind "+p.Kind)
				return
			}
			payloads = append(payloads, notify.Payload{
				Kind:       kind,
				IDs:        p.IDs,
				TypeTags:   p.Types,
				Structural: p.Structural,
			})
		}
		if err := bus.Publish(payloads...); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"status": "dispatched", "payloads": len(payloads)})
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError emits a {"error": ...} body through the JSON encoder so that
// messages containing quotes stay valid JSON.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type notifyPayload struct {
	Kind       string   `json:"kind"`
	IDs        []int64  `json:"ids,omitempty"`
	Types      []string `json:"types,omitempty"`
	Structural bool     `json:"structural,omitempty"`
}

func parseKind(s string) (notify.Kind, bool) {
	switch s {
	case "refresh-all":
		return notify.RefreshAll, true
	case "refresh-node":
		return notify.RefreshNode, true
	case "remove-node":
		return notify.RemoveNode, true
	case "type-changed":
		return notify.TypeChanged, true
	}
	return 0, false
}

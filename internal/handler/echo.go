package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TotemHolder-js/EchoShock/internal/auth"
	"github.com/TotemHolder-js/EchoShock/internal/service"
)

// EchoHandler serves the blog, both the public read side and the admin
// write side. Every decision about visibility is made by the service.
type EchoHandler struct {
	svc    *service.EchoService
	logger *slog.Logger
}

func NewEchoHandler(svc *service.EchoService, logger *slog.Logger) *EchoHandler {
	return &EchoHandler{svc: svc, logger: logger}
}

// HandleList returns published echoes, newest first.
//
// HTTP: GET /api/echoes?limit=20&offset=0
func (h *EchoHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	list, err := h.svc.List(r.Context(), opts)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if next, err := h.svc.NextChange(r.Context()); err != nil {
		h.logger.Warn("finding next publish date", slog.String("error", err.Error()))
		w.Header().Set("Cache-Control", "no-store")
	} else {
		expiresAt(w, next)
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleFeatured returns the pinned echo, or 404 when none is published.
//
// HTTP: GET /api/echoes/featured
func (h *EchoHandler) HandleFeatured(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Featured(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// HandleGet returns one echo.
//
// HTTP: GET /api/echoes/{id}
//
// URL PARAMETERS:
// chi.URLParam(r, "id") extracts {id} from the matched route pattern.
func (h *EchoHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Get(r.Context(), auth.ProfileFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// --- admin ---

// HandleListAll returns every echo including scheduled ones.
//
// HTTP: GET /api/admin/echoes
func (h *EchoHandler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	list, err := h.svc.ListAll(r.Context(), auth.ProfileFromContext(r.Context()), opts)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createEchoRequest struct {
	Title        string   `json:"title"`
	Excerpt      string   `json:"excerpt"`
	Content      string   `json:"content"`
	PublishDate  string   `json:"publishDate"`
	ThumbnailURL string   `json:"thumbnailUrl"`
	GameIDs      []string `json:"gameIds"`
}

// HandleCreate creates an echo.
//
// HTTP: POST /api/admin/echoes
// REQUEST BODY: {"title", "excerpt", "content", "publishDate"?, "thumbnailUrl"?, "gameIds"?}
//
// publishDate accepts RFC 3339, YYYY-MM-DD or a phrase like "friday 18:00".
func (h *EchoHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createEchoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	e, err := h.svc.Create(r.Context(), auth.ProfileFromContext(r.Context()), service.CreateEchoInput{
		Title:        req.Title,
		Excerpt:      req.Excerpt,
		Content:      req.Content,
		PublishDate:  req.PublishDate,
		ThumbnailURL: req.ThumbnailURL,
		GameIDs:      req.GameIDs,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// HandleDelete removes an echo.
//
// HTTP: DELETE /api/admin/echoes/{id}
func (h *EchoHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), auth.ProfileFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePin makes an echo the featured one.
//
// HTTP: POST /api/admin/echoes/{id}/pin
// 409 already_pinned while another echo holds the pin.
func (h *EchoHandler) HandlePin(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Pin(r.Context(), auth.ProfileFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUnpin clears the pin.
//
// HTTP: DELETE /api/admin/echoes/{id}/pin
func (h *EchoHandler) HandleUnpin(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Unpin(r.Context(), auth.ProfileFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

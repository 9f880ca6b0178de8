package handler

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/auth"
	"github.com/TotemHolder-js/EchoShock/internal/service"
)

// GameHandler serves The Glade and the admin game and upload routes.
type GameHandler struct {
	svc       *service.GameService
	maxUpload int64
	logger    *slog.Logger
}

// NewGameHandler creates a GameHandler. maxUpload caps a whole multipart
// request; a value <= 0 falls back to service.MaxImageBytes.
func NewGameHandler(svc *service.GameService, maxUpload int64, logger *slog.Logger) *GameHandler {
	if maxUpload <= 0 {
		maxUpload = service.MaxImageBytes
	}
	return &GameHandler{svc: svc, maxUpload: maxUpload, logger: logger}
}

// HandleGlade returns the current and previous games.
//
// HTTP: GET /api/games
// RESPONSE: {"current": [...], "previous": [...]}
func (h *GameHandler) HandleGlade(w http.ResponseWriter, r *http.Request) {
	glade, err := h.svc.Glade(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	expiresAt(w, glade.ChangesAt)
	writeJSON(w, http.StatusOK, glade)
}

// HandleGet returns one game. Upcoming games are 404 for non-admins.
//
// HTTP: GET /api/games/{id}
func (h *GameHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.Get(r.Context(), auth.ProfileFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// --- admin ---

// HandleListAll returns every game including upcoming ones.
//
// HTTP: GET /api/admin/games
func (h *GameHandler) HandleListAll(w http.ResponseWriter, r *http.Request) {
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

type createGameRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	GameURL     string `json:"gameUrl"`
	ImageURL    string `json:"imageUrl"`
	GladeEntry  string `json:"gladeEntry"`
	GladeExit   string `json:"gladeExit"`
}

// HandleCreate adds a featured game.
//
// HTTP: POST /api/admin/games
//
// TWO REQUEST SHAPES:
//   - application/json with an imageUrl
//   - multipart/form-data with the same fields as form values and the cover
//     image in the "image" file field
//
// Empty gladeEntry means next Friday 12:00 UTC; empty gladeExit means one
// week after entry.
func (h *GameHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var (
		req createGameRequest
		img *service.Image
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := h.parseMultipart(w, r); err != nil {
			writeError(w, h.logger, err)
			return
		}
		req = createGameRequest{
			Title:       r.FormValue("title"),
			Description: r.FormValue("description"),
			GameURL:     r.FormValue("gameUrl"),
			ImageURL:    r.FormValue("imageUrl"),
			GladeEntry:  r.FormValue("gladeEntry"),
			GladeExit:   r.FormValue("gladeExit"),
		}
		name, data, ok, err := readFormFile(r, "image", service.MaxImageBytes)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		if ok {
			img = &service.Image{Filename: name, Data: data}
		}
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	g, err := h.svc.Create(r.Context(), auth.ProfileFromContext(r.Context()), service.CreateGameInput{
		Title:       req.Title,
		Description: req.Description,
		GameURL:     req.GameURL,
		ImageURL:    req.ImageURL,
		Image:       img,
		GladeEntry:  req.GladeEntry,
		GladeExit:   req.GladeExit,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// HandleDelete removes a game and its links from echoes.
//
// HTTP: DELETE /api/admin/games/{id}
func (h *GameHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), auth.ProfileFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUpload stores an image for use in echo content or thumbnails.
//
// HTTP: POST /api/admin/uploads (multipart, "file" field, optional "folder")
// RESPONSE: 201 {"url": "..."}
func (h *GameHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if err := h.parseMultipart(w, r); err != nil {
		writeError(w, h.logger, err)
		return
	}
	name, data, ok, err := readFormFile(r, "file", service.MaxImageBytes)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !ok {
		writeError(w, h.logger, apperror.ValidationFailed("file", "a file is required"))
		return
	}

	u, err := h.svc.Upload(r.Context(), auth.ProfileFromContext(r.Context()), r.FormValue("folder"),
		service.Image{Filename: name, Data: data})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": u})
}

// parseMultipart bounds the request body before parsing it. Parts beyond
// the in-memory limit spill to temp files, removed when the request ends.
func (h *GameHandler) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperror.ValidationFailed("body", "request body is too large")
		}
		return apperror.ValidationFailed("body", "invalid multipart form")
	}
	return nil
}

package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sakif/ebook-storefront/internal/content"
	"github.com/sakif/ebook-storefront/internal/service"
)

// DownloadHandler streams the ebook to callers the access decision admits.
type DownloadHandler struct {
	access        AccessVerifier
	content       content.Store
	fileName      string
	verifyTimeout time.Duration
	logger        *slog.Logger
}

// NewDownloadHandler creates a DownloadHandler. fileName is the attachment
// name without extension. verifyTimeout bounds the access decision only; the
// stream runs until the body is sent or the client goes away. Zero leaves the
// decision unbounded.
func NewDownloadHandler(access AccessVerifier, store content.Store, fileName string, verifyTimeout time.Duration, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		access:        access,
		content:       store,
		fileName:      fileName,
		verifyTimeout: verifyTimeout,
		logger:        logger,
	}
}

// HandleDownloadPost serves the ebook for a JSON request.
//
// HTTP: POST /api/download
// REQUEST BODY: {"session_id": "cs_..."} or {"access_token": "eyJ..."}
func (h *DownloadHandler) HandleDownloadPost(w http.ResponseWriter, r *http.Request) {
	var body accessRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	h.serve(w, r, body)
}

// HandleDownloadGet serves the ebook for a plain link, as emailed.
//
// HTTP: GET /api/download?token=eyJ...  (or ?session_id=cs_...)
func (h *DownloadHandler) HandleDownloadGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.serve(w, r, accessRequest{
		SessionID:   q.Get("session_id"),
		AccessToken: q.Get("token"),
	})
}

func (h *DownloadHandler) serve(w http.ResponseWriter, r *http.Request, body accessRequest) {
	grant, err := h.verify(r, body)
	if err != nil {
		writeError(w, err)
		return
	}

	rc, size, err := h.content.Open(r.Context())
	if err != nil {
		h.logger.Error("opening ebook failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	defer rc.Close()

	name := h.fileName
	if grant.IsAdmin {
		name += "-Admin"
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".pdf"))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Cache-Control", "private, no-store")
	// Lift the server write deadline for the body.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)

	// Headers are sent; a copy failure can only be logged.
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("ebook download interrupted",
			slog.String("purchase_id", grant.PurchaseID),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ebook downloaded",
		slog.String("purchase_id", grant.PurchaseID),
		slog.String("via", grant.Via.String()),
	)
}

func (h *DownloadHandler) verify(r *http.Request, body accessRequest) (*service.AccessGrant, error) {
	ctx := r.Context()
	if h.verifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.verifyTimeout)
		defer cancel()
	}
	return h.access.Verify(ctx, accessRequestFrom(r, body))
}

package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/gifts"
	"github.com/raywall/gifted-service/pkg/session"
)

func (h *handlers) listGifts(w http.ResponseWriter, r *http.Request, p *session.Principal) {
	list, err := h.Gifts.List(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []keyspace.Gift{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"gifts": list})
}

func (h *handlers) createGift(w http.ResponseWriter, r *http.Request, p *session.Principal) {
	var in gifts.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	gift, err := h.Gifts.Create(r.Context(), p.UserID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"gift": gift})
}

func (h *handlers) getGift(w http.ResponseWriter, r *http.Request, p *session.Principal) {
	gift, err := h.Gifts.Get(r.Context(), p.UserID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gift": gift})
}

func (h *handlers) updateGift(w http.ResponseWriter, r *http.Request, p *session.Principal) {
	var patch gifts.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	gift, err := h.Gifts.Update(r.Context(), p.UserID, mux.Vars(r)["id"], patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gift": gift})
}

func (h *handlers) presignImage(w http.ResponseWriter, r *http.Request, p *session.Principal) {
	var body struct {
		ContentType string `json:"contentType"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	upload, err := h.Gifts.PresignImage(r.Context(), p.UserID, mux.Vars(r)["id"], body.ContentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

// giftQueue lists gifts of one status, pending by default.
func (h *handlers) giftQueue(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	q := r.URL.Query()
	status := keyspace.GiftStatus(q.Get("status"))
	if status == "" {
		status = keyspace.GiftPending
	}
	list, err := h.Gifts.Queue(r.Context(), status, q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []keyspace.Gift{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"gifts": list})
}

func (h *handlers) setGiftStatus(w http.ResponseWriter, r *http.Request, _ *session.Principal) {
	var body struct {
		Status keyspace.GiftStatus `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	gift, err := h.Gifts.SetStatus(r.Context(), vars["userId"], vars["id"], body.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gift": gift})
}

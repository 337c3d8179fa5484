package http

import (
	"net/http"

	"mailgate/internal/dto"
)

func (a *API) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req dto.SendEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := a.Emails.Send(r.Context(), actorFrom(r), req, clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSendBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []dto.SendEmailRequest
	if err := decodeJSON(r, &reqs); err != nil {
		writeError(w, err)
		return
	}

	resp, err := a.Emails.SendBatch(r.Context(), actorFrom(r), reqs, clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListEmails(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limit := queryInt(r, "limit", 0)

	resp, err := a.Emails.List(r.Context(), actorFrom(r), cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := a.Emails.Get(r.Context(), actorFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

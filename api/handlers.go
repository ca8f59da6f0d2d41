package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nmoshub/queryd/query"
	"github.com/nmoshub/queryd/resource"
	"github.com/nmoshub/queryd/subscription"
	"github.com/nmoshub/queryd/versions"
)

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	if err := writeJSON(w, http.StatusOK, []string{"x-nmos/"}); err != nil {
		restError(r.Method, err)
	}
}

func (h *handlers) namespaceIndex(w http.ResponseWriter, r *http.Request) {
	if err := writeJSON(w, http.StatusOK, []string{"query/"}); err != nil {
		restError(r.Method, err)
	}
}

func (h *handlers) versionIndex(w http.ResponseWriter, r *http.Request) {
	enabled := versions.Enabled(h.httpsOnly)
	list := make([]string, 0, len(enabled))
	for _, v := range enabled {
		list = append(list, v.String()+"/")
	}
	if err := writeJSON(w, http.StatusOK, list); err != nil {
		restError(r.Method, err)
	}
}

func (h *handlers) apiBase(w http.ResponseWriter, r *http.Request) {
	if _, ok := parseVersion(w, r); !ok {
		return
	}
	endpoints := make([]string, 0, len(resource.Types)+1)
	endpoints = append(endpoints, "subscriptions/")
	for _, t := range resource.Types {
		endpoints = append(endpoints, t+"/")
	}
	if err := writeJSON(w, http.StatusOK, endpoints); err != nil {
		restError(r.Method, err)
	}
}

func (h *handlers) listResources(w http.ResponseWriter, r *http.Request) {
	ver, ok := parseVersion(w, r)
	if !ok {
		return
	}
	typeToken := mux.Vars(r)["type"]
	if !resource.ValidType(typeToken) {
		writeError(w, http.StatusNotFound, "unknown resource type "+typeToken)
		return
	}

	out, err := h.query.List(r.Context(), ver, typeToken, queryArgs(r))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, out); err != nil {
		restError(r.Method, err)
	}
}

func (h *handlers) getResource(w http.ResponseWriter, r *http.Request) {
	ver, ok := parseVersion(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	typeToken := vars["type"]
	if !resource.ValidType(typeToken) {
		writeError(w, http.StatusNotFound, "unknown resource type "+typeToken)
		return
	}

	out, err := h.query.Get(r.Context(), ver, typeToken, vars["id"], queryArgs(r))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, out); err != nil {
		restError(r.Method, err)
	}
}

// writeQueryError maps query service failures onto the status codes the API
// defines for them
func writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, query.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, query.ErrWrongType):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, query.ErrBadDowngrade):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "registry unavailable")
	}
}

func (h *handlers) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	if _, ok := parseVersion(w, r); !ok {
		return
	}
	if err := writeJSON(w, http.StatusOK, h.store.All()); err != nil {
		restError(r.Method, err)
	}
}

func (h *handlers) createSubscription(w http.ResponseWriter, r *http.Request) {
	ver, ok := parseVersion(w, r)
	if !ok {
		return
	}
	var req subscription.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	sub, created, err := h.store.Post(&req, ver, wsBase(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	if err := writeJSON(w, status, sub); err != nil {
		restError(r.Method, err)
	}
}

func (h *handlers) getSubscription(w http.ResponseWriter, r *http.Request) {
	if _, ok := parseVersion(w, r); !ok {
		return
	}
	id := mux.Vars(r)["id"]
	sub, ok := h.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "subscription "+id+" not found")
		return
	}
	if err := writeJSON(w, http.StatusOK, sub); err != nil {
		restError(r.Method, err)
	}
}

func (h *handlers) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	if _, ok := parseVersion(w, r); !ok {
		return
	}
	if !h.store.Delete(mux.Vars(r)["id"]) {
		writeError(w, http.StatusForbidden, "subscription is not persistent and cannot be deleted")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// wsBase derives the WebSocket origin clients should dial from the request
// that created the subscription
func wsBase(r *http.Request) string {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	return scheme + "://" + r.Host
}

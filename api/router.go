// Package api exposes the Query API over HTTP and WebSocket: versioned
// snapshot endpoints, the subscriptions collection and the per-subscription
// grain stream.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/nmoshub/queryd/log"
	"github.com/nmoshub/queryd/query"
	"github.com/nmoshub/queryd/subscription"
	"github.com/nmoshub/queryd/versions"
)

// Route ties a handler to a method and path in the multiplexer
type Route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

// RESTLogger logs the requests internally
func RESTLogger(inner http.Handler, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		inner.ServeHTTP(w, r)
		log.Debugf(log.RESTSys, "%s\t%s\t%s\t%s",
			r.Method,
			r.RequestURI,
			name,
			time.Since(start))
	})
}

type handlers struct {
	query     *query.Service
	store     *subscription.Store
	httpsOnly bool
	upgrader  websocket.Upgrader
}

// NewRouter returns the Query API multiplexer. httpsOnly trims v1.0 from the
// advertised version list; the v1.0 routes themselves stay registered so
// in-flight clients keep working across a mode switch.
func NewRouter(q *query.Service, store *subscription.Store, httpsOnly bool) *mux.Router {
	h := &handlers{
		query:     q,
		store:     store,
		httpsOnly: httpsOnly,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	// subscriptions and ws come before the generic collection routes so
	// their path segments are never captured as a {type}
	routes := []Route{
		{"Index", http.MethodGet, "/", h.index},
		{"NamespaceIndex", http.MethodGet, "/x-nmos/", h.namespaceIndex},
		{"VersionIndex", http.MethodGet, "/x-nmos/query/", h.versionIndex},
		{"APIBase", http.MethodGet, "/x-nmos/query/{version}/", h.apiBase},
		{"SubscriptionList", http.MethodGet, "/x-nmos/query/{version}/subscriptions/", h.listSubscriptions},
		{"SubscriptionCreate", http.MethodPost, "/x-nmos/query/{version}/subscriptions", h.createSubscription},
		{"SubscriptionGet", http.MethodGet, "/x-nmos/query/{version}/subscriptions/{id}", h.getSubscription},
		{"SubscriptionDelete", http.MethodDelete, "/x-nmos/query/{version}/subscriptions/{id}", h.deleteSubscription},
		{"Websocket", http.MethodGet, "/x-nmos/query/{version}/ws/", h.serveWebsocket},
		{"ResourceList", http.MethodGet, "/x-nmos/query/{version}/{type}/", h.listResources},
		{"ResourceGet", http.MethodGet, "/x-nmos/query/{version}/{type}/{id}", h.getResource},
	}

	router := mux.NewRouter().StrictSlash(true)
	for _, route := range routes {
		router.
			Methods(route.Method).
			Path(route.Pattern).
			Name(route.Name).
			Handler(RESTLogger(route.HandlerFunc, route.Name))
	}
	return router
}

// errorResponse is the error body shape clients of the registry APIs expect
type errorResponse struct {
	Code  int     `json:"code"`
	Error string  `json:"error"`
	Debug *string `json:"debug"`
}

// writeJSON outputs a JSON response of the response interface
func writeJSON(w http.ResponseWriter, status int, response any) error {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(response)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	if err := writeJSON(w, status, errorResponse{Code: status, Error: msg}); err != nil {
		restError("error response", err)
	}
}

// restError prints the REST method and error
func restError(method string, err error) {
	log.Errorf(log.RESTSys, "RESTful %s: server failed to send JSON response. Error %v",
		method, err)
}

// parseVersion resolves the {version} path segment. An unknown version is a
// plain 404, there is nothing at that path.
func parseVersion(w http.ResponseWriter, r *http.Request) (versions.APIVersion, bool) {
	raw := mux.Vars(r)["version"]
	ver, err := versions.Parse(raw)
	if err != nil || !ver.IsSupported() {
		writeError(w, http.StatusNotFound, "unsupported API version")
		return versions.APIVersion{}, false
	}
	return ver, true
}

// queryArgs flattens the URL query into the single-valued filter map the
// query service consumes
func queryArgs(r *http.Request) map[string]string {
	values := r.URL.Query()
	args := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			args[k] = v[0]
		}
	}
	return args
}

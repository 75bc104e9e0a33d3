package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes builds the router for every HTTP endpoint. metricsHandler
// serves /metrics; nil falls back to the default Prometheus registry.
func (s *Server) SetupRoutes(metricsHandler http.Handler) *mux.Router {
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.WebSocketHandler).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.rateLimit, s.requireActor)
	api.HandleFunc("/dm/{id}", s.DirectConversation).Methods(http.MethodGet)
	api.HandleFunc("/dm/{id}/send", s.SendDirect).Methods(http.MethodPost)
	api.HandleFunc("/gc/{id}", s.GroupConversation).Methods(http.MethodGet)
	api.HandleFunc("/gc/{id}/send", s.SendGroup).Methods(http.MethodPost)
	api.HandleFunc("/vc/{targetUserId}", s.InviteToCall).Methods(http.MethodPost)

	dash := api.PathPrefix("/dashboard").Subrouter()
	dash.HandleFunc("/friends/{action}", s.FriendAction).Methods(http.MethodPost)
	dash.HandleFunc("/groups", s.CreateGroup).Methods(http.MethodPost)
	dash.HandleFunc("/groups/{id}/members", s.AddGroupMembers).Methods(http.MethodPost)
	dash.HandleFunc("/groups/{id}/leave", s.LeaveGroup).Methods(http.MethodPost)
	dash.HandleFunc("/groups/{id}/name", s.RenameGroup).Methods(http.MethodPost)
	dash.HandleFunc("/groups/{id}/picture", s.SetGroupPicture).Methods(http.MethodPost)

	return r
}

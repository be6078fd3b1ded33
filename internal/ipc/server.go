package ipc

import (
	"context"
	"net/http"
)

// Server wraps an HTTP server with engine-specific routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	mux := http.NewServeMux()

	// Health endpoint.
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Project endpoints.
	mux.HandleFunc("POST /api/v1/projects", h.StartProject)
	mux.HandleFunc("GET /api/v1/projects", h.ListProjects)
	mux.HandleFunc("GET /api/v1/projects/{projectID}", h.GetProject)
	mux.HandleFunc("POST /api/v1/projects/{projectID}/pause", h.PauseProject)
	mux.HandleFunc("POST /api/v1/projects/{projectID}/resume", h.ResumeProject)

	// Agent endpoint.
	mux.HandleFunc("GET /api/v1/agents", h.ListAgents)

	// Event endpoints.
	mux.HandleFunc("GET /api/v1/events", h.ListEvents)
	mux.HandleFunc("GET /api/v1/projects/{projectID}/events", h.ListProjectEvents)
	mux.HandleFunc("GET /api/v1/projects/{projectID}/verdicts", h.ListVerdicts)

	// Live event feed.
	mux.HandleFunc("GET /ws", h.Hub.HandleWS)

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: corsMiddleware(mux),
	}

	return &Server{
		httpServer: srv,
	}
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for local dashboard access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

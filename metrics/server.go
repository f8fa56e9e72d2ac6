package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router serves /healthz and /metrics.
func Router(db Pinger) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 800*time.Millisecond)
		defer cancel()
		t0 := time.Now()
		if err := db.Ping(ctx); err != nil {
			http.Error(w, "db not ok: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		ObserveDBPing(time.Since(t0))
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", Handler()).Methods(http.MethodGet)
	return r
}

type Server struct {
	srv *http.Server
}

// Serve starts the ops server on addr and stops it when ctx is done.
func Serve(ctx context.Context, addr string, db Pinger) *Server {
	srv := &http.Server{Addr: addr, Handler: Router(db), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		_ = srv.ListenAndServe()
	}()

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	return &Server{srv: srv}
}

func (s *Server) Addr() string { return s.srv.Addr }

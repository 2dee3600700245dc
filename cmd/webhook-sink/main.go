// Command webhook-sink receives rating events posted by the server's webhook
// publisher and logs them, optionally appending each one to a JSON-lines file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Clark-Hu/stars/internal/i18n"
	"github.com/Clark-Hu/stars/internal/ledger"
	"github.com/Clark-Hu/stars/internal/logger"
)

func main() {
	var (
		port  = flag.String("port", "9099", "port to listen on")
		path  = flag.String("path", "/events", "path events are posted to")
		out   = flag.String("out", "", "append received events to this JSON-lines file")
		token = flag.String("token", "", "required bearer token (empty accepts any caller)")
		mode  = flag.String("log", "dev", "log mode: dev or prod")
	)
	flag.Parse()

	log, err := logger.New(*mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	var w io.Writer
	if *out != "" {
		f, err := os.OpenFile(*out, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatal("open output file", "error", err)
		}
		defer f.Close()
		w = f
	}

	addr := ":" + *port
	log.Info("webhook sink listening", "addr", addr, "path", *path)
	if err := http.ListenAndServe(addr, newRouter(*path, *token, w, log)); err != nil {
		log.Fatal("server error", "error", err)
	}
}

func newRouter(path, token string, out io.Writer, log *logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post(path, (&sink{token: token, out: out, logger: log}).ServeHTTP)
	return r
}

type sink struct {
	token  string
	logger *logger.Logger

	mu  sync.Mutex
	out io.Writer
}

func (s *sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.token != "" {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || got != s.token {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
	}

	var ev ledger.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&ev); err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	if ev.Name == "" {
		http.Error(w, "event name is required", http.StatusBadRequest)
		return
	}

	s.logger.Info(i18n.EventTitle(ev.Name),
		"event", string(ev.Name),
		"eventId", ev.ID,
		"target", ev.Rating.Target.String(),
		"identity", ev.Rating.Identity().String(),
		"rate", ev.Rating.Rate,
	)

	if s.out != nil {
		line, err := json.Marshal(ev)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.mu.Lock()
		_, err = s.out.Write(append(line, '\n'))
		s.mu.Unlock()
		if err != nil {
			s.logger.Error("append event", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

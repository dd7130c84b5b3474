// Command liveqld is the HTTP front end for the live query engine: clients
// POST a restricted SQL query to /subscribe and receive every materialized
// change as a server-sent event for as long as the connection stays open.
//
// Grounded on the teacher's cmd/gateway/main.go: same flag parsing,
// graceful-shutdown-on-signal http.Server lifecycle, health/readiness
// endpoints, generalized from "route a query to an engine" to "compile a
// query and stream its materialized output".
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/liveql/engine/internal/compiler"
	engconfig "github.com/liveql/engine/internal/config"
	"github.com/liveql/engine/internal/materializer"
	"github.com/liveql/engine/internal/observability"
	"github.com/liveql/engine/internal/source"
	"github.com/liveql/engine/internal/source/memsource"
	"github.com/liveql/engine/internal/source/sqlitesource"
	"github.com/liveql/engine/internal/sqlfront"
	"github.com/liveql/engine/internal/subscription"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "liveqld: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr       = flag.String("addr", ":8085", "HTTP listen address")
		configPath = flag.String("config", "", "config file path")
		showVer    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("liveqld %s (commit %s)\n", version, commit)
		return nil
	}

	cfg, err := engconfig.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := observability.NewJSONLogger(os.Stdout)
	srv, err := newServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // streaming responses must not be cut off by a write deadline
	}

	done := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("liveqld: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.shutdown()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("liveqld: shutdown error: %v", err)
		}
		close(done)
	}()

	log.Printf("liveqld %s starting on %s", version, *addr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	<-done
	log.Println("liveqld stopped")
	return nil
}

// server dispatches /subscribe, /healthz, and /readyz. Every registered
// source collection is shared across subscriptions; each subscription gets
// its own compiled graph and driver.
type server struct {
	cfg    *engconfig.Config
	logger observability.QueryLogger
	cache  *compiler.Cache

	mu      sync.Mutex
	sources map[string]source.Collection
	drivers []*subscription.Driver
}

func newServer(cfg *engconfig.Config, logger observability.QueryLogger) (*server, error) {
	cache, err := compiler.NewCache(cfg.Cache.Size)
	if err != nil {
		return nil, fmt.Errorf("compiler cache: %w", err)
	}
	s := &server{cfg: cfg, logger: logger, cache: cache, sources: make(map[string]source.Collection)}
	s.sources["_demo"] = memsource.New("_demo", func(r map[string]any) any { return r["id"] })
	return s, nil
}

func (s *server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.drivers {
		d.Stop()
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/healthz":
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	case "/readyz":
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	case "/subscribe":
		s.handleSubscribe(w, r)
	default:
		http.NotFound(w, r)
	}
}

type subscribeRequest struct {
	SQL         string `json:"sql"`
	SQLiteTable string `json:"sqliteTable,omitempty"`
	KeyColumn   string `json:"keyColumn,omitempty"`
	VersionCol  string `json:"versionColumn,omitempty"`
}

func (s *server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	query, err := sqlfront.Parse(req.SQL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Two subscriptions submitting textually different but structurally
	// identical SQL compile from the one canonical IR the first of them
	// validated, instead of each parse producing its own equivalent copy.
	digest := compiler.Digest(query)
	if cached, hit := s.cache.Lookup(digest); hit {
		query = cached
	} else {
		s.cache.Store(digest, query)
	}

	sources, err := s.resolveSources(query.From, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	compiled, err := compiler.Compile(query, sources)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var mu sync.Mutex
	mat := &materializer.Materializer{Handler: func(changes []materializer.Change) {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range changes {
			data, _ := json.Marshal(changeToJSON(c))
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		flusher.Flush()
	}}

	ctx := r.Context()
	driver := subscription.NewDriver(compiled, sources, mat)
	if err := driver.Start(ctx); err != nil {
		s.logger.LogEvent(ctx, observability.SubscriptionLogEntry{
			SubscriptionID: fmt.Sprintf("%p", driver),
			Collections:    []string{query.From},
			Phase:          "start",
			Outcome:        "error",
			Error:          err.Error(),
		})
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.mu.Lock()
	s.drivers = append(s.drivers, driver)
	s.mu.Unlock()
	defer driver.Stop()
	// This subscription's graph is torn down when the handler returns; per
	// spec §9 its operator state cannot be reused, so the next request for
	// this query must re-plan rather than get a recipe tied to a dead run.
	defer s.cache.Invalidate(digest)

	s.logger.LogEvent(ctx, observability.SubscriptionLogEntry{
		SubscriptionID: fmt.Sprintf("%p", driver),
		Collections:    []string{query.From},
		Phase:          "start",
		Outcome:        "success",
	})

	<-ctx.Done()
}

func (s *server) resolveSources(from string, req subscribeRequest) (map[string]source.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if coll, ok := s.sources[from]; ok {
		return map[string]source.Collection{from: coll}, nil
	}

	if req.SQLiteTable == "" {
		return nil, fmt.Errorf("unknown collection %q: pass sqliteTable to back it with a sqlite table", from)
	}
	db, err := sql.Open("sqlite", s.cfg.Sources.SQLite.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	keyCol := req.KeyColumn
	if keyCol == "" {
		keyCol = "id"
	}
	versionCol := req.VersionCol
	if versionCol == "" {
		versionCol = "updated_at"
	}
	coll := sqlitesource.New(from, db, sqlitesource.Config{
		Table:         req.SQLiteTable,
		KeyColumn:     keyCol,
		VersionColumn: versionCol,
		Columns:       []string{keyCol},
		PollInterval:  s.cfg.Sources.SQLite.PollInterval,
	})
	s.sources[from] = coll
	return map[string]source.Collection{from: coll}, nil
}

func changeToJSON(c materializer.Change) map[string]any {
	kind := "insert"
	switch c.Kind {
	case materializer.Update:
		kind = "update"
	case materializer.Delete:
		kind = "delete"
	}
	out := map[string]any{"kind": kind, "key": c.Key, "value": c.Value}
	if c.FracIndex != "" {
		out["fracIndex"] = c.FracIndex
	}
	return out
}

// Package agent wires the STPP endpoint into a runnable daemon: the HTTP
// server with the /api/stpp WebSocket endpoint, the shared property tree,
// the worker pool, the image loader, and the process-wide instance id.
package agent

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	metrics "github.com/armon/go-metrics"
	connlimit "github.com/hashicorp/go-connlimit"
	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/mediatree/stpp/agent/config"
	"github.com/mediatree/stpp/event"
	"github.com/mediatree/stpp/imageload"
	"github.com/mediatree/stpp/prop"
	"github.com/mediatree/stpp/task"
)

// Agent is the running daemon.
type Agent struct {
	config   *config.Config
	logger   hclog.Logger
	tree     *prop.Tree
	workers  *task.Pool
	loader   imageload.Loader
	instance [16]byte

	srv      *http.Server
	limiter  *connlimit.Limiter
	started  time.Time
	sessions int32
}

// New builds an agent. The 16-byte running-instance identifier is chosen
// here, once per process, and echoed in every HELLO reply.
func New(cfg *config.Config, logger hclog.Logger) (*Agent, error) {
	a := &Agent{
		config:  cfg,
		logger:  logger.Named("agent"),
		tree:    prop.NewTree(logger.Named("prop")),
		workers: task.NewPool(cfg.Workers),
		started: time.Now(),
	}

	raw, err := uuid.GenerateRandomBytes(16)
	if err != nil {
		return nil, fmt.Errorf("generating instance id: %w", err)
	}
	copy(a.instance[:], raw)

	loader, err := imageload.NewHTTPLoader(logger.Named("imageload"), cfg.ImageCacheSize)
	if err != nil {
		return nil, err
	}
	a.loader = loader

	a.limiter = connlimit.NewLimiter(connlimit.Config{
		MaxConnsPerClientIP: cfg.MaxConnsPerClient,
	})

	if _, err := metrics.NewGlobal(metrics.DefaultConfig("stppd"),
		metrics.NewInmemSink(10*time.Second, time.Minute)); err != nil {
		return nil, err
	}

	a.tree.Root().SetEventHandler(a.handleEvent)
	return a, nil
}

// Tree exposes the shared property tree to the embedding application.
func (a *Agent) Tree() *prop.Tree {
	return a.tree
}

// Start binds the listener and serves until Shutdown.
func (a *Agent) Start() error {
	addr := fmt.Sprintf("%s:%d", a.config.BindAddr, a.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/stpp", a.handleSTPP)
	mux.HandleFunc("/v1/status", a.handleStatus)

	a.srv = &http.Server{
		Handler:   mux,
		ConnState: a.limiter.HTTPConnStateFunc(),
	}
	go func() {
		if err := a.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("http server failed", "error", err)
		}
	}()
	a.logger.Info("stpp endpoint listening", "addr", addr,
		"instance", hex.EncodeToString(a.instance[:]))
	return nil
}

// Shutdown stops the server and drains the worker pool.
func (a *Agent) Shutdown() error {
	var errs *multierror.Error
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	a.workers.Close()
	return errs.ErrorOrNil()
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"instance":  hex.EncodeToString(a.instance[:]),
		"uptime":    time.Since(a.started).String(),
		"sessions":  atomic.LoadInt32(&a.sessions),
		"bind_addr": a.config.BindAddr,
		"port":      a.config.Port,
	})
}

// CanHandle reports whether url is routed to the STPP backend.
func CanHandle(url string) bool {
	return strings.HasPrefix(url, "stpp://")
}

// OpenPage populates the model of the page it is handed for an stpp://
// url. The remote UI renders any page whose model type is "stpp" through
// its own STPP view. Re-opening the same page replaces its model values.
func (a *Agent) OpenPage(page *prop.Prop, url string) {
	model := page.Descend([]string{"model"}, true)
	model.Descend([]string{"type"}, true).SetString("stpp")
	model.Descend([]string{"url"}, true).SetString(url)
}

// handleEvent is the tree-root fallback handler for UI events dispatched
// by remote clients.
func (a *Agent) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *event.OpenURL:
		if !CanHandle(e.URL) {
			a.logger.Debug("ignoring open-url for foreign backend", "url", e.URL)
			return
		}
		// One well-known navigation page, repopulated per open.
		a.OpenPage(a.tree.Root().Descend([]string{"nav", "page"}, true), e.URL)
	case *event.ActionMulti:
		a.logger.Debug("action event", "actions", len(e.Actions))
	default:
		a.logger.Debug("unrouted event", "type", fmt.Sprintf("%T", ev))
	}
}

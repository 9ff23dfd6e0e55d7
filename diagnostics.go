package qudicore

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// DiagnosticsServer is a small local HTTP+WebSocket admin surface, the
// in-scope stand-in for the Qt GUI "manager table view" that spec's
// Non-goals explicitly exclude: GET /modules returns the current snapshot
// as JSON, and GET /events upgrades to a WebSocket streaming every
// CloudEvent the manager emits. Events emitted on the Application's own bus
// (remote session opened/closed) are not streamed.
type DiagnosticsServer struct {
	manager  *Manager
	upgrader websocket.Upgrader
	srv      *http.Server
}

// NewDiagnosticsServer builds the router.
func NewDiagnosticsServer(manager *Manager) *DiagnosticsServer {
	return &DiagnosticsServer{
		manager:  manager,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func (d *DiagnosticsServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/modules", d.handleModules)
	r.Get("/events", d.handleEvents)
	return r
}

// Serve starts the HTTP server on addr and blocks until it stops or the
// given context is cancelled.
func (d *DiagnosticsServer) Serve(ctx context.Context, addr string) error {
	d.srv = &http.Server{Addr: addr, Handler: d.router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.srv.Shutdown(shutdownCtx)
	}()
	err := d.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (d *DiagnosticsServer) handleModules(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d.manager.Snapshot())
}

// handleEvents upgrades to a WebSocket and relays every event the manager
// emits to this one client until it disconnects.
func (d *DiagnosticsServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id := "diagnostics-ws-" + r.RemoteAddr
	ch := make(chan []byte, 32)
	obs := newWebsocketObserver(id, ch)
	_ = d.manager.RegisterObserver(obs)
	defer func() { _ = d.manager.UnregisterObserver(obs) }()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// websocketObserver adapts one connected diagnostics client to the
// Observer interface, marshalling every event it receives to JSON and
// pushing it onto a buffered channel the HTTP handler's goroutine drains.
// A full channel (a client too slow to keep up) drops the event rather
// than blocking NotifyObservers, consistent with events being a
// best-effort diagnostics stream, not a delivery-guaranteed log.
type websocketObserver struct {
	id string
	ch chan []byte
}

func newWebsocketObserver(id string, ch chan []byte) *websocketObserver {
	return &websocketObserver{id: id, ch: ch}
}

func (o *websocketObserver) ObserverID() string { return o.id }

func (o *websocketObserver) OnEvent(_ context.Context, event cloudevents.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case o.ch <- data:
	default:
	}
	return nil
}

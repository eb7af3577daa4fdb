package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/spf13/viper"

	"github.com/astromechza/sketchsync/pkg/board"
	"github.com/astromechza/sketchsync/pkg/raster"
	"github.com/astromechza/sketchsync/pkg/scene"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func buildConfig() *viper.Viper {
	v := viper.New()
	v.SetDefault("listen-addr", "localhost:8080")
	v.SetDefault("store", "memory")
	v.SetDefault("sqlite-path", "sketchsync.sqlite3")
	v.SetDefault("redis-addr", "localhost:6379")
	v.SetEnvPrefix("sketchsync")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func buildStore(v *viper.Viper) (board.Store, error) {
	switch driver := v.GetString("store"); driver {
	case "memory":
		return board.NewMemoryStore(), nil
	case "sqlite":
		return board.OpenSqliteStore(v.GetString("sqlite-path"))
	case "redis":
		return board.NewRedisStore(v.GetString("redis-addr"))
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func mainInner() error {
	v := buildConfig()

	slog.Info("Opening store", "driver", v.GetString("store"))
	store, err := buildStore(v)
	if err != nil {
		return err
	}
	defer store.Close()

	s := &server{store: store}
	httpServer := &http.Server{Addr: v.GetString("listen-addr"), Handler: s.router()}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("Listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	_ = httpServer.Close()
	wg.Wait()
	return nil
}

type server struct {
	store board.Store
}

func (s *server) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodPost).Path("/canvases").HandlerFunc(s.createCanvas)
	r.Methods(http.MethodGet).Path("/canvases/{id}").HandlerFunc(s.getCanvas)
	r.Methods(http.MethodPut).Path("/canvases/{id}").HandlerFunc(s.putCanvas)
	r.Methods(http.MethodGet).Path("/canvases/{id}/png").HandlerFunc(s.getCanvasPng)
	r.Methods(http.MethodGet).Path("/canvases/{id}/watch").HandlerFunc(s.watchCanvas)
	return r
}

func writeJson(writer http.ResponseWriter, status int, value interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(value); err != nil {
		slog.Error("failed to write response", "err", err)
	}
}

func (s *server) createCanvas(writer http.ResponseWriter, request *http.Request) {
	var inputs board.CreateRequest
	if err := json.NewDecoder(request.Body).Decode(&inputs); err != nil {
		slog.Error("failed to decode body", "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	if inputs.ID == "" {
		inputs.ID = uuid.NewString()
	}
	if inputs.Data == "" {
		inputs.Data = scene.EmptyBlob()
	} else if _, err := scene.Decode(inputs.Data); err != nil {
		slog.Error("rejecting undecodable scene blob", "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	doc, err := s.store.Create(request.Context(), board.Document{ID: inputs.ID, Data: inputs.Data, ViewOnly: inputs.ViewOnly})
	if err != nil {
		slog.Error("failed to create canvas", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJson(writer, http.StatusCreated, doc)
}

func (s *server) getCanvas(writer http.ResponseWriter, request *http.Request) {
	doc, err := s.store.Get(request.Context(), mux.Vars(request)["id"])
	if err != nil {
		if errors.Is(err, board.ErrNotFound) {
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		slog.Error("failed to get canvas", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJson(writer, http.StatusOK, doc)
}

func (s *server) putCanvas(writer http.ResponseWriter, request *http.Request) {
	var inputs board.PutRequest
	if err := json.NewDecoder(request.Body).Decode(&inputs); err != nil {
		slog.Error("failed to decode body", "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	// Invariant: stored data must always be a decodable scene blob.
	if _, err := scene.Decode(inputs.Data); err != nil {
		slog.Error("rejecting undecodable scene blob", "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	doc, err := s.store.Put(request.Context(), mux.Vars(request)["id"], inputs.Data)
	if err != nil {
		if errors.Is(err, board.ErrNotFound) {
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		slog.Error("failed to put canvas", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJson(writer, http.StatusOK, doc)
}

func (s *server) getCanvasPng(writer http.ResponseWriter, request *http.Request) {
	doc, err := s.store.Get(request.Context(), mux.Vars(request)["id"])
	if err != nil {
		if errors.Is(err, board.ErrNotFound) {
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		slog.Error("failed to get canvas", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	sc, err := scene.Decode(doc.Data)
	if err != nil {
		slog.Error("failed to decode stored scene", "canvas", doc.ID, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "image/png")
	if err := raster.EncodePNG(writer, sc, 1); err != nil {
		slog.Error("failed to render canvas", "canvas", doc.ID, "err", err)
	}
}

// watchCanvas upgrades to a websocket and pushes the full document on every
// store change, including the caller's own writes; echo suppression is the
// client engine's job. Text messages received on the socket are treated as
// PutRequest writes so a single socket can carry a whole session.
func (s *server) watchCanvas(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["id"]
	if _, err := s.store.Get(request.Context(), id); err != nil {
		if errors.Is(err, board.ErrNotFound) {
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		slog.Error("failed to get canvas", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}

	// Gorilla connections allow a single concurrent writer, so pushes are
	// funnelled through one goroutine. The watch is registered before the
	// upgrade completes so a write racing the handshake is not missed; the
	// buffered channel holds anything that arrives early.
	outgoing := make(chan []byte, 16)
	ctx, cancel := context.WithCancel(request.Context())
	defer cancel()

	unwatch, err := s.store.Watch(ctx, id, func(doc board.Document) {
		raw, err := json.Marshal(doc)
		if err != nil {
			slog.Error("failed to encode document", "err", err)
			return
		}
		select {
		case outgoing <- raw:
		case <-ctx.Done():
		}
	})
	if err != nil {
		slog.Error("failed to watch canvas", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer unwatch()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	go func() {
		defer conn.Close()
		for {
			select {
			case raw := <-outgoing:
				if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
					slog.Error("failed to push document", "canvas", id, "err", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var inputs board.PutRequest
		if err := json.Unmarshal(p, &inputs); err != nil {
			slog.Error("failed to decode socket write", "canvas", id, "err", err)
			continue
		}
		if _, err := scene.Decode(inputs.Data); err != nil {
			slog.Error("rejecting undecodable scene blob", "canvas", id, "err", err)
			continue
		}
		if _, err := s.store.Put(ctx, id, inputs.Data); err != nil {
			slog.Error("failed to put canvas", "canvas", id, "err", err)
		}
	}
}

// dead-drop hub: provisions isolated rooms, one container per room.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jaakkos/deaddrop/internal/hub"
	"github.com/jaakkos/deaddrop/internal/policy"
)

func main() {
	logger := log.New(os.Stderr, "[dead-drop-hub] ", log.LstdFlags|log.Lshortfile)

	cfg, err := policy.HubFromEnv()
	if err != nil {
		logger.Fatalf("Config: %v", err)
	}
	registry, err := hub.NewRegistry(cfg)
	if err != nil {
		logger.Fatalf("Registry: %v", err)
	}
	runner, err := hub.NewDockerRunner(cfg, logger)
	if err != nil {
		logger.Fatalf("Docker: %v", err)
	}
	archiver := hub.NewArchiver(cfg, logger)
	spawner := hub.NewSpawner(registry, runner, archiver, cfg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			rooms, err := registry.ListRooms()
			if err != nil {
				httpError(w, err)
				return
			}
			if rooms == nil {
				rooms = []hub.Room{}
			}
			writeJSON(w, http.StatusOK, rooms)
		case http.MethodPost:
			var req struct {
				Name string `json:"name"`
				Team string `json:"team"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
				http.Error(w, `{"error":"name is required"}`, http.StatusBadRequest)
				return
			}
			room, err := spawner.OpenRoom(r.Context(), req.Name, req.Team)
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"name":  room.Name,
				"port":  room.Port,
				"token": room.Token,
				"url":   spawner.URL(room),
			})
		default:
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/rooms/", func(w http.ResponseWriter, r *http.Request) {
		name, action, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/rooms/"), "/")
		if name == "" {
			http.Error(w, `{"error":"room name required"}`, http.StatusBadRequest)
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			room, err := registry.GetRoom(name)
			if err != nil {
				httpError(w, err)
				return
			}
			members, err := registry.Members(name)
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"room": room, "members": members})
		case action == "" && r.Method == http.MethodDelete:
			// ?destroy=true skips the archive and deletes the room data.
			if r.URL.Query().Get("destroy") == "true" {
				if err := spawner.DestroyRoom(r.Context(), name); err != nil {
					httpError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{
					"name": name, "status": hub.RoomDestroyed,
				})
				return
			}
			indexPath, err := spawner.CloseRoom(r.Context(), name)
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{
				"name":    name,
				"status":  hub.RoomArchived,
				"archive": indexPath,
			})
		case (action == "join" || action == "leave") && r.Method == http.MethodPost:
			var req struct {
				Agent string `json:"agent"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Agent == "" {
				http.Error(w, `{"error":"agent is required"}`, http.StatusBadRequest)
				return
			}
			var err error
			if action == "join" {
				err = registry.JoinRoom(name, req.Agent)
			} else {
				err = registry.LeaveRoom(name, req.Agent)
			}
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"room": name, "agent": req.Agent})
		case action == "pin" && r.Method == http.MethodPost:
			var req struct {
				Pinned bool `json:"pinned"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"pinned is required"}`, http.StatusBadRequest)
				return
			}
			if err := registry.SetPinned(name, req.Pinned); err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"room": name, "pinned": req.Pinned})
		default:
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/agents/", func(w http.ResponseWriter, r *http.Request) {
		agent, rest, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/agents/"), "/")
		if agent == "" || rest != "rooms" || r.Method != http.MethodGet {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		rooms, err := registry.RoomsFor(agent)
		if err != nil {
			httpError(w, err)
			return
		}
		if rooms == nil {
			rooms = []hub.Room{}
		}
		writeJSON(w, http.StatusOK, rooms)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	logger.Printf("Hub listening on %s (rooms %d-%d)", addr, cfg.PortRangeStart, cfg.PortRangeEnd)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Hub server: %v", err)
	}

	_ = runner.Close()
	_ = registry.Close()
	logger.Println("Hub stopped")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

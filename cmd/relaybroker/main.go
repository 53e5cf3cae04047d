package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/duskwire/duskwire/internal/broker"
)

// fleet caches the Consul-healthy replica set, refreshed by a background
// long-poll watch so /healthz and /admin/fleet never block on Consul directly.
var fleet = struct {
	mu       sync.RWMutex
	replicas []string
}{}

func setFleet(replicas []string) {
	fleet.mu.Lock()
	fleet.replicas = replicas
	fleet.mu.Unlock()
}

func getFleet() []string {
	fleet.mu.RLock()
	defer fleet.mu.RUnlock()
	out := make([]string, len(fleet.replicas))
	copy(out, fleet.replicas)
	return out
}

func main() {
	cfg, err := broker.LoadConfig()
	if err != nil {
		log.Fatalf("broker: config: %v", err)
	}

	log.Printf("starting duskwire relay broker: %s", cfg.ServerID)

	directory, err := broker.NewDirectory(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("broker: directory: %v", err)
	}
	defer directory.Close()
	if err := directory.EnsureSchema(); err != nil {
		log.Fatalf("broker: schema: %v", err)
	}

	presence, err := broker.NewPresence(cfg.RedisURL)
	if err != nil {
		log.Fatalf("broker: presence: %v", err)
	}
	defer presence.Close()

	discovery, err := broker.NewDiscovery(cfg.ConsulURL, cfg.ServerID, cfg.ServerPort)
	if err != nil {
		log.Fatalf("broker: discovery: %v", err)
	}
	if err := discovery.Register(); err != nil {
		log.Fatalf("broker: registering with consul: %v", err)
	}
	defer func() {
		if err := discovery.Deregister(); err != nil {
			log.Printf("broker: deregister warning: %v", err)
		}
	}()

	if replicas, err := discovery.HealthyReplicas(); err != nil {
		log.Printf("broker: initial fleet lookup failed: %v", err)
	} else {
		setFleet(replicas)
	}
	go discovery.WatchReplicas(func(replicas []string) {
		log.Printf("broker: healthy replica set changed: %v", replicas)
		setFleet(replicas)
	})

	var regAuth *broker.RegAuth
	secret, err := broker.ResolveSecret(cfg.VaultAddr, cfg.VaultToken, cfg.VaultMountPath, cfg.VaultSecretPath, cfg.RegSecretEnv)
	if err != nil {
		log.Printf("broker: registration token hardening disabled: %v", err)
	} else {
		regAuth, err = broker.NewRegAuth(secret)
		if err != nil {
			log.Printf("broker: registration token hardening disabled: %v", err)
			regAuth = nil
		}
	}

	hub := broker.NewHub(cfg.ServerID, presence, directory, regAuth)
	go hub.Run()

	router := mux.NewRouter()
	router.HandleFunc("/healthz", healthCheck).Methods("GET")
	router.Handle("/metrics", broker.Handler()).Methods("GET")
	router.HandleFunc("/ws", hub.ServeWS)
	router.HandleFunc("/admin/locate/{username}", locateHandler(presence)).Methods("GET")
	router.HandleFunc("/admin/fleet", fleetHandler).Methods("GET")

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET"},
		AllowCredentials: false,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           corsHandler.Handler(router),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("relay broker listening on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("broker: server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("received signal %v, shutting down", sig)

	if err := discovery.Deregister(); err != nil {
		log.Printf("broker: deregister warning: %v", err)
	}
	time.Sleep(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("broker: http shutdown warning: %v", err)
		}
		close(done)
	}()

	hub.Shutdown()
	<-done
	log.Println("relay broker stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":           "ok",
		"healthy_replicas": len(getFleet()),
	})
}

// fleetHandler reports the last-known set of healthy broker replicas, kept
// current by a background Consul watch rather than querying Consul inline.
func fleetHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"replicas": getFleet()})
}

// locateHandler reports which replica (if any) a username is currently
// attached to, used by operators debugging cross-replica delivery.
func locateHandler(presence *broker.Presence) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := mux.Vars(r)["username"]
		replicaID, online, err := presence.Locate(r.Context(), username)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"username":   username,
			"online":     online,
			"replica_id": replicaID,
		})
	}
}

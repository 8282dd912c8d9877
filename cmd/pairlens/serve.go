package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pairlens/pairlens/internal/api"
	"github.com/pairlens/pairlens/internal/config"
	"github.com/pairlens/pairlens/internal/db"
	"github.com/pairlens/pairlens/internal/reaper"
	"github.com/pairlens/pairlens/internal/ws"
)

func newServeCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the room relay server.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.ApplyEnv(cmd.Flags())
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	cfg.BindServerFlags(fs)

	return cmd
}

func serve(cfg *config.Config) error {
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	hub := ws.NewHub(database)
	go hub.Run()

	sweeper := reaper.New(database, reaper.Config{Interval: cfg.ReapInterval})
	sweeper.Start()
	defer sweeper.Stop()

	router := httprouter.New()
	api.New(hub, database, cfg.JoinBaseURL).Register(router)

	server := &http.Server{
		Addr:    net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port)),
		Handler: corsMiddleware(router),
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("🔭 PairLens relay starting on %s", server.Addr)
	log.Printf("📁 Database: %s", cfg.DBPath)
	log.Println("Endpoints:")
	log.Println("  - Realtime: /realtime?roomId={id}&slot={a|b}")
	log.Println("  - Health:   GET /healthz")
	log.Println("  - Stats:    GET /api/stats")
	log.Println("  - Create:   POST /api/rooms")
	log.Println("  - Room:     GET /api/rooms/{id}")
	log.Println("  - Join:     POST /api/rooms/{id}/join")
	log.Println("  - QR:       GET /api/rooms/{id}/qr")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

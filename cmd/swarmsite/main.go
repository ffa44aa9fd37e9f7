package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"swarmsite/internal/bridge"
	"swarmsite/internal/config"
	"swarmsite/internal/manager"
	"swarmsite/internal/resolver"
	"swarmsite/internal/sitecache"
	"swarmsite/internal/swarm"
)

func main() {
	var configPath, role string
	flag.StringVar(&configPath, "config", getenvDefault("SWARMSITE_CONFIG", "./swarmsite.yaml"), "path to swarmsite.yaml")
	flag.StringVar(&role, "role", "all", "what to run: all, resolver or manager")
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	switch role {
	case "all", "resolver", "manager":
	default:
		log.Fatalf("unknown role %q", role)
	}

	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("config %s not found, using defaults", configPath)
		cfg, err = config.Default(), nil
	}
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()

	var resolverLink, managerLink bridge.Link
	var dialer *bridge.Client
	switch cfg.Bridge.Mode {
	case "pipe":
		if role != "all" {
			log.Fatalf("bridge.mode pipe needs -role all, got %q", role)
		}
		resolverLink, managerLink = bridge.NewPipe()
	case "websocket":
		if role != "manager" {
			hub := bridge.NewHub()
			mux.Handle(cfg.Bridge.Path, hub)
			resolverLink = hub
		}
		if role != "resolver" {
			url := cfg.Bridge.URL
			if url == "" {
				url = fmt.Sprintf("ws://127.0.0.1:%d%s", cfg.Server.Port, cfg.Bridge.Path)
			}
			dialer = bridge.NewClient(url, cfg.Bridge.RetryAttempts, cfg.Bridge.RetryDelay.D())
			managerLink = dialer
		}
	}

	if managerLink != nil {
		defer managerLink.Close()

		mc := cfg.Manager
		cache, err := sitecache.Open(mc.Cache.Path, mc.Cache.TTL.D(), int64(mc.Cache.Max))
		if err != nil {
			log.Fatalf("open site cache %s: %v", mc.Cache.Path, err)
		}
		defer cache.Close()

		client := swarm.NewDirClient(mc.SwarmDir)
		defer client.Close()

		mgr, err := manager.New(mc, managerLink, client, cache)
		if err != nil {
			log.Fatalf("init manager: %v", err)
		}
		mux.Handle("/api/", mgr.Handler())
		g.Go(func() error { return mgr.Run(gctx) })

		if dialer != nil {
			dialer.OnConnect = func() { mgr.Republish(gctx) }
			g.Go(func() error { return dialer.Run(gctx) })
		}
	}

	var next http.Handler = http.NotFoundHandler()
	if cfg.Server.Static != "" {
		next = http.FileServer(http.Dir(cfg.Server.Static))
	}
	if resolverLink != nil {
		defer resolverLink.Close()

		rv, err := resolver.New(cfg.Resolver, resolverLink, cfg.Server.Prefix, cfg.Server.Origin)
		if err != nil {
			log.Fatalf("init resolver: %v", err)
		}
		g.Go(func() error { return rv.Run(gctx) })
		g.Go(func() error {
			rv.LogStats(gctx, cfg.Logging.LogStatsEvery.D())
			return nil
		})
		next = rv.Middleware(next)
	}
	mux.Handle("/", next)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen %s: %v", addr, err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Printf("swarmsite %s listening on %s, prefix=%s bridge=%s", role, addr, cfg.Server.Prefix, cfg.Bridge.Mode)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("exit: %v", err)
	}
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}

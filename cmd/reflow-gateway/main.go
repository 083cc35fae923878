// Command reflow-gateway is the long-running Main process (§5): it owns the
// shared-state bus, the serial link to the oven's TMS, the ~10 Hz Monitor,
// the curve library and run archive, and the HTTP/WebSocket collaborator
// surface. It spawns one cmd/reflow-supervisor subprocess per curve run via
// internal/orchestrator, so a pathological MPC solve can never take this
// process — or the serial link — down with it.
//
// Usage:
//
//	reflow-gateway [-config reflow.yaml]
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"periph.io/x/host/v3"

	"github.com/holla2040/reflow-mpc/internal/archive"
	"github.com/holla2040/reflow-mpc/internal/config"
	"github.com/holla2040/reflow-mpc/internal/curvestore"
	"github.com/holla2040/reflow-mpc/internal/gateway"
	"github.com/holla2040/reflow-mpc/internal/metrics"
	"github.com/holla2040/reflow-mpc/internal/monitor"
	"github.com/holla2040/reflow-mpc/internal/orchestrator"
	"github.com/holla2040/reflow-mpc/internal/redisbus"
	"github.com/holla2040/reflow-mpc/internal/reflow"
	"github.com/holla2040/reflow-mpc/internal/sharedstate"
	"github.com/holla2040/reflow-mpc/internal/tmslink"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file overlaying the defaults")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("reflow-gateway: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// host.Init registers the platform's GPIO/periph drivers so tmslink's
	// gpioreg.ByName lookup can resolve the reset line; harmless on hosts
	// with no matching hardware.
	if _, err := host.Init(); err != nil {
		log.Printf("reflow-gateway: periph host.Init: %v", err)
	}

	bus, err := sharedstate.Create(cfg.SharedMemPath)
	if err != nil {
		log.Fatalf("reflow-gateway: create shared state: %v", err)
	}
	defer bus.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	curves, err := curvestore.New(cfg.CurveDir)
	if err != nil {
		log.Fatalf("reflow-gateway: curve store: %v", err)
	}

	arc, err := archive.Open(cfg.ArchiveDBPath)
	if err != nil {
		log.Fatalf("reflow-gateway: archive: %v", err)
	}
	defer arc.Close()

	hub := gateway.NewHub()

	redisPub := redisbus.New(cfg.RedisAddr, cfg.RedisChannel)
	defer redisPub.Close()

	// orch is declared before Monitor so the status-change closure can
	// forward into it; Go closures capture the variable, not its value at
	// closure-creation time, so the nil check covers only the brief window
	// before orch is assigned below.
	var orch *orchestrator.Orchestrator
	mon := monitor.New(bus, func(status reflow.ReflowStatus) {
		hub.BroadcastEvent("reflow_status", status)
		redisPub.Publish(context.Background(), status)
		if orch != nil {
			orch.OnStatusChange(status)
		}
	})

	orch, err = orchestrator.New(bus, mon, arc, cfg.SupervisorBin, "run-scratch")
	if err != nil {
		log.Fatalf("reflow-gateway: orchestrator: %v", err)
	}

	link := tmslink.New(tmslink.Config{Port: cfg.SerialPort, Baud: cfg.SerialBaud, GPIOLine: cfg.GPIOLine}, bus, m,
		func(status reflow.OvenStatus) {
			hub.BroadcastEvent("oven_status", status)
			orch.OnOvenStatus(status)
		},
		func(msg reflow.LogMessage) {
			hub.BroadcastEvent("log_message", msg)
			orch.OnLogMessage(msg)
		},
	)

	handler := &gateway.Handler{Controller: orch, Curves: curves, Archive: arc, Hub: hub}
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"service":"reflow-gateway"}`))
	})

	apiServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("reflow-gateway: tms link stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("reflow-gateway: HTTP API listening on %s", cfg.HTTPAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("reflow-gateway: HTTP API server error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("reflow-gateway: metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("reflow-gateway: metrics server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("reflow-gateway: shutting down")
	bus.SetShouldExit(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	apiServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)
	orch.Shutdown(shutdownCtx)

	wg.Wait()
	log.Println("reflow-gateway: shutdown complete")
}

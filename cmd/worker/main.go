// Command worker hosts one stage (spec.md §4.5, §6): it reads
// FAASIT_FUNC_NAME/LOCAL_STORAGE_DIR/REDIS_HOST/REDIS_PORT from the
// environment, wires a worker.Worker behind net/http plus a
// companion TCP cache server, and serves until terminated.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/flowmesh/flowmesh/cache"
	"github.com/flowmesh/flowmesh/metrics"
	"github.com/flowmesh/flowmesh/obslog"
	"github.com/flowmesh/flowmesh/routetable"
	"github.com/flowmesh/flowmesh/store"
	"github.com/flowmesh/flowmesh/worker"
)

func main() {
	stage := os.Getenv("FAASIT_FUNC_NAME")
	if stage == "" {
		log.Fatal("worker: FAASIT_FUNC_NAME is required")
	}

	st, err := openStore()
	if err != nil {
		log.Fatalf("worker: opening store: %v", err)
	}
	defer st.Close()

	routes := routetable.New()
	registerStages(routes)
	routes.Freeze()

	emitter, shutdownTracing := setupEmitter(stage)
	defer shutdownTracing(context.Background())

	w := worker.New(stage, routes, st, worker.DefaultOptions())
	w.Emitter = emitter
	w.Metrics = metrics.NewRecorder(prometheus.DefaultRegisterer)

	cachePort := envInt("CACHE_SERVER_PORT", 9090)
	tcpServer, err := cache.NewTCPServer(w.Cache, fmt.Sprintf(":%d", cachePort))
	if err != nil {
		log.Fatalf("worker: binding TCP cache server: %v", err)
	}
	w.TCP = tcpServer
	go func() {
		if err := tcpServer.Serve(); err != nil {
			log.Printf("worker: TCP cache server stopped: %v", err)
		}
	}()

	workerPort := envInt("WORKER_PORT", 8080)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", workerPort),
		Handler:      w,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("worker: stage=%s listening on :%d (cache :%d)", stage, workerPort, cachePort)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("worker: http server: %v", err)
	}
}

// registerStages is the user-authored stage registry for this process
// image; a real deployment generates one such file per stage from the
// workflow's route table. Left minimal here since stage bodies are
// application code, not runtime code.
func registerStages(routes *routetable.RouteTable) {
	_ = routes
}

// setupEmitter wires a plain LogEmitter by default, or a span-per-event
// OTelEmitter backed by a real sdktrace.TracerProvider when OTEL_TRACING is
// set — this worker process is the natural place to install the provider
// the OTelEmitter draws its tracer from, since it owns the process lifetime
// that a provider's Shutdown needs to hook into.
func setupEmitter(stage string) (obslog.Emitter, func(context.Context) error) {
	if os.Getenv("OTEL_TRACING") == "" {
		return obslog.NewLogEmitter(os.Stdout, false), func(context.Context) error { return nil }
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "flowmesh-worker"),
		attribute.String("flowmesh.stage", stage),
	)
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	return obslog.NewOTelEmitter(otel.Tracer("flowmesh-worker")), tp.Shutdown
}

func openStore() (store.Store, error) {
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg := store.DefaultRedisConfig()
		cfg.Host = host
		cfg.Port = envInt("REDIS_PORT", cfg.Port)
		return store.NewRedisStore(context.Background(), cfg)
	}
	if dir := os.Getenv("LOCAL_STORAGE_DIR"); dir != "" {
		return store.NewSQLiteStore(dir + "/worker.db")
	}
	return store.NewMemStore(), nil
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

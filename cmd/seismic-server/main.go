// Package main runs the HTTP front door for the seismic collection
// service: thin handlers that trigger runs and map the run-level failure
// kinds onto distinct HTTP statuses for operators.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/quakelab/seismic-core/internal/collector"
	"github.com/quakelab/seismic-core/internal/config"
	"github.com/quakelab/seismic-core/internal/dates"
	"github.com/quakelab/seismic-core/internal/metastore"
	"github.com/quakelab/seismic-core/internal/proxy"
	"github.com/quakelab/seismic-core/internal/storage"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("loading configuration", zap.Error(err))
	}
	if len(cfg.APIKeys) == 0 {
		log.Fatal("no API credentials configured")
	}

	store, err := buildStore(cfg)
	if err != nil {
		log.Fatal("building object store", zap.Error(err))
	}

	clock := dates.SystemClock{}
	earliest, err := dates.Parse(cfg.EarliestDate)
	if err != nil {
		log.Fatal("invalid earliest date", zap.Error(err))
	}
	meta := metastore.NewManager(store, clock, cfg.DailyQuota, earliest, log)

	var pool *proxy.Pool
	if cfg.UseProxies {
		pool = proxy.NewPool(proxy.PoolConfig{}, log)
	}

	orch, err := collector.New(cfg, store, meta, pool, clock, log)
	if err != nil {
		log.Fatal("building orchestrator", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      newRouter(orch, log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // runs are long
	}

	go func() {
		log.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}

func buildStore(cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.S3Endpoint == "" {
		return storage.NewLocalStore("data", cfg.Bucket), nil
	}
	return storage.NewS3Client(storage.S3Config{
		EndpointURL:     cfg.S3Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
		UseSSL:          true,
	})
}

func newRouter(orch *collector.Orchestrator, log *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	h := &handlers{orch: orch, log: log}

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	}).Methods(http.MethodGet)
	r.HandleFunc("/collect", h.collect).Methods(http.MethodPost)
	r.HandleFunc("/update", h.update).Methods(http.MethodPost)
	r.HandleFunc("/dataset/collect", h.datasetCollect).Methods(http.MethodPost)
	r.HandleFunc("/dataset/patch", h.datasetPatch).Methods(http.MethodPost)
	r.HandleFunc("/dataset/verify", h.datasetVerify).Methods(http.MethodGet)
	return r
}

type handlers struct {
	orch *collector.Orchestrator
	log  *zap.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) collect(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, collector.ModeCollection)
}

func (h *handlers) update(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, collector.ModeUpdate)
}

func (h *handlers) run(w http.ResponseWriter, r *http.Request, mode string) {
	meta, err := h.orch.Run(r.Context(), mode)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *handlers) datasetCollect(w http.ResponseWriter, r *http.Request) {
	first, last, ok := spanParams(w, r)
	if !ok {
		return
	}
	ledger, err := h.orch.CollectDataset(r.Context(), first, last)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

func (h *handlers) datasetPatch(w http.ResponseWriter, r *http.Request) {
	first, last, ok := spanParams(w, r)
	if !ok {
		return
	}
	ledger, err := h.orch.PatchDataset(r.Context(), first, last)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

func (h *handlers) datasetVerify(w http.ResponseWriter, r *http.Request) {
	first, last, ok := spanParams(w, r)
	if !ok {
		return
	}
	report, err := h.orch.VerifyDataset(r.Context(), first, last)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func spanParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	first := r.URL.Query().Get("first")
	last := r.URL.Query().Get("last")
	if !dates.IsValid(first) || !dates.IsValid(last) {
		writeJSON(w, http.StatusUnprocessableEntity,
			map[string]string{"error": "first and last must be YYYY-MM-DD dates"})
		return "", "", false
	}
	return first, last, true
}

// fail maps run-level failure kinds to distinct statuses so operators can
// tell "try later" from "alert" from "infrastructure down".
func (h *handlers) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, collector.ErrDoneCollecting):
		writeJSON(w, http.StatusOK, map[string]string{"status": "done_collecting"})
	case errors.Is(err, collector.ErrNoRemainingQuota):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	case errors.Is(err, collector.ErrNoHealthyResponses):
		h.log.Error("run failed with no healthy responses", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	case errors.Is(err, collector.ErrStorageUnavailable):
		h.log.Error("storage unavailable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.Is(err, collector.ErrInvalidDate):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		h.log.Error("run failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

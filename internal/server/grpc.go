package server

import (
	"PerpDesk/internal/core"
	"PerpDesk/internal/ingestion"
	"PerpDesk/internal/observability"
	"PerpDesk/internal/query"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HistoryReader is the read side of trade history. *query.HistoryService
// implements it.
type HistoryReader interface {
	ListTrades(ctx context.Context, f query.TradeFilter) ([]query.TradeRecord, error)
	ListPrepared(ctx context.Context, chainID int64, account common.Address, limit int) ([]query.PreparedRecord, error)
	GetPrepared(ctx context.Context, id uuid.UUID) (*query.PreparedRecord, error)
	ActionCounts(ctx context.Context, chainID int64, account common.Address) ([]query.ActionCount, error)
}

// GRPCServer wraps the gRPC server and the HTTP gateway mux.
type GRPCServer struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string
	handler      http.Handler
	logger       zerolog.Logger
}

// ServerDeps holds everything the HTTP handlers need. History and Ingest
// may be nil, in which case their routes answer 503.
type ServerDeps struct {
	Engine        *core.Engine
	History       HistoryReader
	Ingest        *ingestion.AdminIngestService
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
	StartTime     time.Time
}

// NewGRPCServer creates the gRPC server (health and reflection) and the
// HTTP gateway routes.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		handler:      NewHandler(deps),
		logger:       deps.Logger,
	}
}

// Handler returns the HTTP handler served by the gateway.
func (s *GRPCServer) Handler() http.Handler { return s.handler }

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON API (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP gateway shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("http gateway shutdown")
		}
	}()

	log.Printf("INFO: HTTP gateway listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewHandler builds the gateway mux: API routes on a grpc-gateway
// ServeMux, with health and metrics beside it.
func NewHandler(deps *ServerDeps) http.Handler {
	api := &api{
		engine:  deps.Engine,
		history: deps.History,
		ingest:  deps.Ingest,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		start:   deps.StartTime,
	}

	mux := runtime.NewServeMux()
	for _, r := range api.routes() {
		if err := mux.HandlePath(r.method, r.pattern, api.instrument(r.name, r.handle)); err != nil {
			// patterns are static; a bad one is a programming error
			panic(fmt.Sprintf("register %s %s: %v", r.method, r.pattern, err))
		}
	}

	httpMux := http.NewServeMux()
	if deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/", mux)
	return httpMux
}

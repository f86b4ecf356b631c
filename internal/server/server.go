package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/smarthatch/authserver/config"
	"github.com/smarthatch/authserver/internal/db"
	"github.com/smarthatch/authserver/internal/handlers"
	"github.com/smarthatch/authserver/internal/logging"
	"github.com/smarthatch/authserver/internal/metrics"
	"github.com/smarthatch/authserver/internal/mq"
	"github.com/smarthatch/authserver/internal/password"
	"github.com/smarthatch/authserver/internal/services"
	"github.com/smarthatch/authserver/internal/storage"
	"github.com/smarthatch/authserver/internal/store"
	"github.com/smarthatch/authserver/internal/token"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	mq         *mq.MQ
	objects    *storage.Storage
	log        logging.Logger
}

// New wires configuration into a ready-to-start Server.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(os.Stdout, cfg.Log.Format, cfg.Log.Level)

	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  cfg.Auth.AccessTokenSecret,
		RefreshSecret: cfg.Auth.RefreshTokenSecret,
		AccessTTL:     cfg.Auth.AccessTokenTTL,
		RefreshTTL:    cfg.Auth.RefreshTokenTTL,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{log: logger}

	var userRepo services.UserRepository
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		logger.Warn(ctx, "using in-memory user store; accounts are lost on restart")
		userRepo = store.NewMemoryUserRepository()
	default:
		dbConn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		s.db = dbConn
		userRepo = store.NewUserRepository(dbConn)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(registry, "smarthatch")

	serviceOpts := []services.UserServiceOption{
		services.WithLogger(logger),
		services.WithMetrics(recorder),
	}

	queue, err := NewMQ(ctx, cfg.MQ)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("connect message queue: %w", err)
	}
	if queue != nil {
		s.mq = queue
		publisher := mq.NewEventPublisher(queue, cfg.MQ.EventsChannel)
		serviceOpts = append(serviceOpts, services.WithEventPublisher(publisher))
		logger.Info(ctx, "publishing auth events", "backend", cfg.MQ.Backend, "channel", publisher.Channel())
	}

	userService := services.NewUserService(userRepo, password.New(cfg.Auth.BcryptCost), issuer, serviceOpts...)

	objects, err := newObjectStorage(ctx, cfg.Storage)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("connect object storage: %w", err)
	}
	var avatarService *services.AvatarService
	if objects != nil {
		s.objects = objects
		avatarService = services.NewAvatarService(userRepo, objects)
	} else {
		logger.Info(ctx, "object storage not configured; avatar endpoints disabled")
	}

	authHandler := handlers.NewAuthHandler(userService, issuer, logger)
	avatarHandler := handlers.NewAvatarHandler(avatarService, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
		recorder.Middleware,
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", metrics.Handler(registry))

	authRoutes := func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
		handlers.AvatarRouter(r, avatarHandler, authHandler.RequireAuth)
	}
	router.Group(authRoutes)
	router.Route("/api/auth", authRoutes)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// NewMQ connects the configured broker. It returns nil when no backend is set.
func NewMQ(ctx context.Context, cfg config.MQConfig) (*mq.MQ, error) {
	switch cfg.Backend {
	case config.MQBackendRabbitMQ:
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return mq.New(client), nil
	case config.MQBackendPubSub:
		client, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return mq.New(client), nil
	case config.MQBackendMemory:
		return mq.New(mq.NewMemoryBackend()), nil
	default:
		return nil, nil
	}
}

func newObjectStorage(ctx context.Context, cfg config.StorageConfig) (*storage.Storage, error) {
	var backend storage.ObjectStorage
	switch cfg.Backend {
	case config.StorageBackendMinio:
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		backend = client
	case config.StorageBackendGCS:
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		backend = client
	default:
		return nil, nil
	}

	objects := storage.NewStorage(backend, cfg.Prefix)
	if err := objects.EnsureBucket(ctx); err != nil {
		_ = objects.Close()
		return nil, fmt.Errorf("ensure bucket %s: %w", objects.Bucket(), err)
	}
	return objects, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info(context.Background(), "server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases the database and queue.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	if s.mq != nil {
		_ = s.mq.Close()
	}
	if s.objects != nil {
		_ = s.objects.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

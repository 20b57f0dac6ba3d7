package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/taxi-dispatch/internal/config"
	"github.com/example/taxi-dispatch/internal/eta"
	"github.com/example/taxi-dispatch/internal/fare"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/ingest"
	"github.com/example/taxi-dispatch/internal/location"
	"github.com/example/taxi-dispatch/internal/matcher"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/notify"
	"github.com/example/taxi-dispatch/internal/payments"
	"github.com/example/taxi-dispatch/internal/registry"
	"github.com/example/taxi-dispatch/internal/ride"
	"github.com/example/taxi-dispatch/internal/storage"
	"github.com/example/taxi-dispatch/internal/ws"
)

// Server wires the dispatch components behind one mux. External backends
// (Redis, Postgres, Kafka, Stripe) are all optional; each absent one
// degrades to an in-memory path.
type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger

	store     storage.BookingStore
	locations *location.Store
	matcher   *matcher.Service
	rides     *ride.Manager
	registry  *registry.Registry
	notifier  *notify.Notifier
	gateway   *ws.Gateway

	mux *mux.Router
}

func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	var bookingStore storage.BookingStore
	var audit ride.AuditLog
	var persisters []location.Persister

	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			bookingStore = ps
			audit = ps
			persisters = append(persisters, ps)
		} else {
			logger.Warn("postgres unavailable, using in-memory store", "error", err)
		}
	}
	if bookingStore == nil {
		mem := storage.NewMemoryStore()
		bookingStore = mem
		audit = mem
		persisters = append(persisters, mem)
	}

	if len(cfg.KafkaBrokers) > 0 {
		persisters = append(persisters, ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic))
	}

	var redisGeo *geo.RedisGeo
	if cfg.RedisAddr != "" {
		redisGeo = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, cfg.StalenessWindow)
		persisters = append(persisters, redisPersister{redisGeo})
	}

	locations := location.NewStore(cfg.StalenessWindow, logger, persisters...)

	m := &matcher.Service{
		Geo:             locations,
		DefaultSpeedMps: cfg.DefaultSpeedMps,
		TopN:            cfg.MatcherTopN,
		Cache:           eta.NewCache(30 * time.Second),
	}
	if redisGeo != nil {
		m.Geo = redisGeo
		m.Fallback = locations
	}

	reg := registry.New(logger)
	n := notify.New(reg)
	rides := ride.NewManager(m, n, audit, ride.Config{
		SearchRadiusMeters: cfg.SearchRadiusMeters,
		CandidateCap:       cfg.MatcherTopN,
		Tariff:             fare.DefaultTariff(),
	}, logger)

	gw := &ws.Gateway{
		Registry:            reg,
		Locations:           locations,
		Rides:               rides,
		Matcher:             m,
		Notifier:            n,
		Logger:              logger,
		DefaultRadiusMeters: cfg.SearchRadiusMeters,
	}
	if sc := payments.NewStripeClient(); sc != nil {
		gw.Payments = sc
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		store:     bookingStore,
		locations: locations,
		matcher:   m,
		rides:     rides,
		registry:  reg,
		notifier:  n,
		gateway:   gw,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// Start launches the background loops: the staleness sweeper and the
// write-behind persister.
func (s *Server) Start(ctx context.Context) {
	s.locations.StartSweeper(ctx, s.cfg.SweepInterval)
	s.locations.StartPersister(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/bookings/create", s.handleCreateBooking).Methods("POST")
	s.mux.HandleFunc("/api/bookings/{code}/status", s.handleUpdateBookingStatus).Methods("PUT")
	s.mux.HandleFunc("/api/bookings/{code}", s.handleGetBooking).Methods("GET")
	s.mux.HandleFunc("/api/drivers/nearby", s.handleNearbyDrivers).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/tracking", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the error response
	}
	s.gateway.HandleConn(conn)
}

// redisPersister adapts the GEO index to the location persister shape.
type redisPersister struct{ rg *geo.RedisGeo }

func (r redisPersister) SaveDriverLocation(ctx context.Context, sample models.LocationSample) error {
	return r.rg.Upsert(ctx, sample)
}

func (r redisPersister) RemoveDriverLocation(ctx context.Context, driverID string) error {
	return r.rg.Remove(ctx, driverID)
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

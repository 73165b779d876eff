package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Break lifecycle metrics
	BreaksStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_breaks_started_total",
			Help: "Total break sessions started",
		},
		[]string{"kind"},
	)

	BreaksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_breaks_completed_total",
			Help: "Total break sessions completed and counted",
		},
		[]string{"kind", "overtime"},
	)

	BreaksDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_breaks_discarded_total",
			Help: "Total break sessions discarded for not meeting the minimum duration",
		},
		[]string{"kind"},
	)

	BeginRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_begin_rejected_total",
			Help: "Total Begin attempts rejected by validation",
		},
		[]string{"reason"},
	)

	ActiveBreaks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakwatch_active_breaks",
			Help: "Number of currently open break sessions",
		},
	)

	// Timer metrics
	TimersScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_timers_scheduled_total",
			Help: "Total delayed callbacks scheduled",
		},
		[]string{"purpose"},
	)

	TimersFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_timers_fired_total",
			Help: "Total delayed callbacks fired",
		},
		[]string{"purpose"},
	)

	TimersCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_timers_cancelled_total",
			Help: "Total delayed callbacks cancelled before firing",
		},
		[]string{"purpose"},
	)

	// Shift metrics
	ShiftResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breakwatch_shift_resets_total",
			Help: "Total shift-boundary reset passes completed",
		},
	)

	ForceClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_force_closed_total",
			Help: "Total sessions force-closed at shift reset",
		},
		[]string{"kind"},
	)

	IdleUsersCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breakwatch_idle_users_collected_total",
			Help: "Total long-idle user records garbage-collected",
		},
	)

	// Delivery metrics
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakwatch_deliveries_total",
			Help: "Total outbound notification deliveries by result",
		},
		[]string{"result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		BreaksStarted,
		BreaksCompleted,
		BreaksDiscarded,
		BeginRejected,
		ActiveBreaks,
		TimersScheduled,
		TimersFired,
		TimersCancelled,
		ShiftResets,
		ForceClosed,
		IdleUsersCollected,
		Deliveries,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}

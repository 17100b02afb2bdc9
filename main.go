package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/username/cryptotax/src/config"
	"github.com/username/cryptotax/src/database"
	"github.com/username/cryptotax/src/handlers"
	"github.com/username/cryptotax/src/logger"
	"github.com/username/cryptotax/src/processors"
	"github.com/username/cryptotax/src/services"
	"github.com/username/cryptotax/src/utils"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With, X-User-ID")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Cryptotax backend server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing report cache...")
	reportCache := cache.New(config.Cfg.ReportCacheExpiration, config.Cfg.ReportCacheCleanup)
	logger.L.Info("Report cache initialized.")

	logger.L.Info("Initializing services and handlers...")
	rateStore := services.NewSQLiteRateStore(database.DB)
	rateSourceClient := services.NewRateSourceClient(
		config.Cfg.RateSourceBaseURL,
		config.Cfg.RateSourceUserAgent,
		config.Cfg.RateFetchTimeout,
	)
	rateResolver := services.NewRateResolver(
		rateStore, rateSourceClient,
		config.Cfg.RateStaleAfter, config.Cfg.RateFetchTimeout,
	)

	taxLotEngine := processors.NewTaxLotEngine()
	taxCalculator := processors.NewTaxCalculator()

	reportService := services.NewReportService(
		taxLotEngine, taxCalculator, rateResolver,
		reportCache, config.Cfg.MaxIngestBatch,
	)

	txHandler := handlers.NewTransactionHandler(reportService)
	reportHandler := handlers.NewReportHandler(reportService)
	ratesHandler := handlers.NewRatesHandler(rateResolver)

	logger.L.Info("Configuring routes...")
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/rates", ratesHandler.HandleGetRates)
		r.Post("/rates/refresh", ratesHandler.HandleRefreshRates)

		r.Group(func(r chi.Router) {
			r.Use(handlers.UserContextMiddleware)
			r.Post("/transactions", txHandler.HandleIngestTransactions)
			r.Get("/transactions", txHandler.HandleGetTransactions)
			r.Delete("/transactions", txHandler.HandleDeleteAllTransactions)
			r.Get("/tax-report", reportHandler.HandleGetTaxReport)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Cryptotax backend is running"})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.DB.Ping(); err != nil {
			utils.SendJSONError(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		utils.SendJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}

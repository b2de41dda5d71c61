package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	accrualapp "dealerpay/internal/accrual/application"
	accrualpg "dealerpay/internal/accrual/infrastructure/postgres"
	accrualhttp "dealerpay/internal/accrual/interfaces/http"
	"dealerpay/internal/audit"
	"dealerpay/internal/auth"
	"dealerpay/internal/eventing"
	"dealerpay/internal/eventing/eventbus"
	eventingpg "dealerpay/internal/eventing/infrastructure/postgres"
	"dealerpay/internal/gl"
	loanpg "dealerpay/internal/loan/postgres"
	"dealerpay/internal/observability/metrics"
	paymentapp "dealerpay/internal/payment/application"
	"dealerpay/internal/payment/execution"
	paymentpg "dealerpay/internal/payment/infrastructure/postgres"
	paymenthttp "dealerpay/internal/payment/interfaces/http"
	"dealerpay/internal/pricing"
	settlementapp "dealerpay/internal/settlement/application"
	settlementpg "dealerpay/internal/settlement/infrastructure/postgres"
	settlementhttp "dealerpay/internal/settlement/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	priceProvider, err := pricing.NewPostgresProvider(db)
	if err != nil {
		logger.Fatalf("pricing provider error: %v", err)
	}

	registry := eventing.NewRegistry()
	registry.Register(accrualapp.AccrualProcessed{})
	registry.Register(accrualapp.AccrualAdjusted{})
	registry.Register(accrualapp.AccrualPosted{})
	registry.Register(settlementapp.SettlementCalculated{})
	registry.Register(settlementapp.SettlementNegativeBalance{})
	registry.Register(settlementapp.SettlementApproved{})
	registry.Register(settlementapp.SettlementPaid{})
	registry.Register(settlementapp.LoanPaymentApplied{})
	registry.Register(paymentapp.PaymentBatchCreated{})
	registry.Register(paymentapp.PaymentBatchCompleted{})
	registry.Register(paymentapp.PaymentRetryCompleted{})

	baseBus := eventbus.NewInMemoryBus()
	outboxStore := eventingpg.NewOutboxStore(db)
	processedStore := eventingpg.NewProcessedStore(db)
	dlqStore := eventingpg.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, cfg.TenantID, baseBus)

	eventing.Subscribe(baseBus, eventbus.EventTypeOf[settlementapp.SettlementNegativeBalance](), "settlement.deficit.log", func(ctx context.Context, event any) error {
		evt, ok := event.(settlementapp.SettlementNegativeBalance)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("settlement deficit: station=%s window=%s net=%s", evt.StationID, evt.WindowID, evt.NetPayable)
		return nil
	}, processedStore)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[paymentapp.PaymentBatchCompleted](), "payment.batch.log", func(ctx context.Context, event any) error {
		evt, ok := event.(paymentapp.PaymentBatchCompleted)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("payment batch %s finished %s: paid=%d failed=%d", evt.BatchID, evt.Status, evt.Successful, evt.Failed)
		return nil
	}, processedStore)

	accrualRepo := accrualpg.NewAccrualRepository(db, accrualpg.WithTenantID(cfg.TenantID))
	poster, err := gl.NewLoggingPoster(logger)
	if err != nil {
		logger.Fatalf("gl poster error: %v", err)
	}
	accrualService, err := accrualapp.NewService(accrualRepo, priceProvider, poster, publisher, nil, logger,
		accrualapp.WithCurrency(cfg.Currency))
	if err != nil {
		logger.Fatalf("accrual service error: %v", err)
	}
	salesFeed, err := accrualpg.NewSalesFeed(db)
	if err != nil {
		logger.Fatalf("sales feed error: %v", err)
	}
	accrualSweep := accrualapp.NewSweep(accrualService, salesFeed, cfg.TenantID, cfg.Stations, cfg.AccrualDailyAt, logger)
	go accrualSweep.Start(context.Background())

	loanRepo := loanpg.NewLoanRepository(db, loanpg.WithTenantID(cfg.TenantID))
	deductions, err := settlementpg.NewDeductionSource(db, "")
	if err != nil {
		logger.Fatalf("deduction source error: %v", err)
	}
	bankSource, err := settlementpg.NewBankSource(db, "")
	if err != nil {
		logger.Fatalf("bank source error: %v", err)
	}
	settlementRepo := settlementpg.NewSettlementRepository(db, settlementpg.WithTenantID(cfg.TenantID))
	calculator, err := settlementapp.NewCalculator(accrualRepo, priceProvider, loanRepo, deductions, bankSource, nil)
	if err != nil {
		logger.Fatalf("settlement calculator error: %v", err)
	}
	lifecycle, err := settlementapp.NewLifecycle(settlementRepo, calculator, loanRepo, publisher, nil, logger)
	if err != nil {
		logger.Fatalf("settlement lifecycle error: %v", err)
	}
	settlementSweep := settlementapp.NewSweep(lifecycle, priceProvider, cfg.TenantID, cfg.Stations, cfg.SettlementWeekday, cfg.SettlementAt, logger)
	go settlementSweep.Start(context.Background())

	paymentCfg, err := paymentapp.LoadConfig()
	if err != nil {
		logger.Fatalf("payment config error: %v", err)
	}
	rules, err := paymentCfg.BuildRules()
	if err != nil {
		logger.Fatalf("payment rules error: %v", err)
	}
	batchRepo := paymentpg.NewBatchRepository(db, paymentpg.WithTenantID(cfg.TenantID))
	totals := paymentpg.NewPaidTotals(db)
	engine, err := paymentapp.NewEngine(rules, paymentCfg.ConfiguredRatings(), totals, batchRepo, nil, nil)
	if err != nil {
		logger.Fatalf("payment engine error: %v", err)
	}
	var gateway execution.Gateway
	if cfg.GatewayURL != "" {
		gateway, err = execution.NewHTTPGateway(cfg.GatewayURL, cfg.GatewayAPIKey)
		if err != nil {
			logger.Fatalf("payment gateway error: %v", err)
		}
	} else {
		gateway = execution.NewLoggingGateway(logger)
	}
	orchestrator, err := paymentapp.NewOrchestrator(batchRepo, settlementRepo, lifecycle, engine, gateway, publisher, nil, logger, paymentCfg.Currency)
	if err != nil {
		logger.Fatalf("payment orchestrator error: %v", err)
	}
	paymentSweep := paymentapp.NewSweep(orchestrator, cfg.TenantID, paymentCfg.Schedule.DailyAt, logger)
	go paymentSweep.Start(context.Background())

	accrualHandler, err := accrualhttp.NewHandler(accrualService, cfg.TenantID, auditRepo)
	if err != nil {
		logger.Fatalf("accrual handler error: %v", err)
	}
	settlementHandler, err := settlementhttp.NewHandler(lifecycle, settlementRepo, cfg.TenantID, auditRepo)
	if err != nil {
		logger.Fatalf("settlement handler error: %v", err)
	}
	paymentHandler, err := paymenthttp.NewHandler(orchestrator, batchRepo, cfg.TenantID, auditRepo)
	if err != nil {
		logger.Fatalf("payment handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/accruals", accrualHandler)
	mux.Handle("/api/v1/accruals/", accrualHandler)
	mux.Handle("/api/v1/settlements", settlementHandler)
	mux.Handle("/api/v1/settlements/", settlementHandler)
	mux.Handle("/api/v1/payments/", paymentHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	TenantID          string
	Stations          []string
	Currency          string
	AccrualDailyAt    string
	SettlementWeekday time.Weekday
	SettlementAt      string
	GatewayURL        string
	GatewayAPIKey     string
	JWTSecret         string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:          getenvDefault("TENANT_ID", "tenant-demo"),
		Stations:          splitList(getenvDefault("STATIONS", "")),
		Currency:          getenvDefault("CURRENCY", "GHS"),
		AccrualDailyAt:    getenvDefault("ACCRUAL_DAILY_AT", "01:30"),
		SettlementWeekday: parseWeekday(getenvDefault("SETTLEMENT_WEEKDAY", "Monday")),
		SettlementAt:      getenvDefault("SETTLEMENT_AT", "03:00"),
		GatewayURL:        getenvDefault("PAYMENT_GATEWAY_URL", ""),
		GatewayAPIKey:     getenvDefault("PAYMENT_GATEWAY_API_KEY", ""),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseWeekday(value string) time.Weekday {
	switch strings.ToLower(value) {
	case "sunday":
		return time.Sunday
	case "tuesday":
		return time.Tuesday
	case "wednesday":
		return time.Wednesday
	case "thursday":
		return time.Thursday
	case "friday":
		return time.Friday
	case "saturday":
		return time.Saturday
	default:
		return time.Monday
	}
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

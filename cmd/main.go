package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"school-meals/internal/api"
	"school-meals/internal/config"
	"school-meals/internal/database"
	"school-meals/internal/logger"
	"school-meals/internal/messaging"
	"school-meals/internal/models"
	"school-meals/internal/services/accounts"
	"school-meals/internal/services/notification"
	"school-meals/internal/services/order"
	pgstore "school-meals/internal/storage/postgres"
	"school-meals/migrations"
)

func main() {
	// Parse command line flags
	var (
		mode       = flag.String("mode", "", "Service mode (api-server, notification-subscriber, migrate, create-admin)")
		port       = flag.Int("port", 0, "HTTP port (overrides server.port)")
		configFile = flag.String("config", "config.yaml", "Path to the YAML config file")
		prefetch   = flag.Int("prefetch", 10, "RabbitMQ prefetch count")
		adminLogin = flag.String("login", "admin", "Login of the administrator (create-admin mode)")
		adminPass  = flag.String("password", "", "Password of the administrator (create-admin mode)")
	)
	flag.Parse()

	if *mode == "" {
		fmt.Fprintf(os.Stderr, "Error: --mode flag is required\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	log := logger.New(*mode)
	requestID := logger.GenerateRequestID()

	log.Info("service_started", fmt.Sprintf("Starting %s", *mode), requestID, map[string]interface{}{
		"mode": *mode,
		"port": cfg.Server.Port,
	})

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "api-server":
		err = runAPIServer(ctx, cfg, log)
	case "notification-subscriber":
		err = runNotificationSubscriber(ctx, cfg, log, *prefetch)
	case "migrate":
		err = runMigrations(ctx, cfg, log)
	case "create-admin":
		err = createAdmin(ctx, cfg, log, *adminLogin, *adminPass)
	default:
		log.Error("validation_failed", fmt.Sprintf("Unknown mode: %s", *mode), requestID, nil, nil)
		os.Exit(1)
	}
	if err != nil {
		log.Error("service_failed", fmt.Sprintf("%s failed", *mode), requestID, err, nil)
		os.Exit(1)
	}

	log.Info("service_stopped", "Service stopped gracefully", requestID, nil)
}

// runAPIServer serves the HTTP API until ctx is cancelled
func runAPIServer(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	requestID := logger.GenerateRequestID()

	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Meal events are optional; without a broker the API runs unchanged.
	var events order.EventPublisher
	if cfg.RabbitMQ.Enabled {
		conn, err := messaging.New(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize messaging: %w", err)
		}
		defer conn.Close()

		log.Info("rabbitmq_connected", "Connected to RabbitMQ", requestID, nil)
		events = messaging.NewPublisher(conn, log)
	}

	handler, err := api.NewRouter(api.Dependencies{
		Config: cfg,
		Store:  pgstore.New(db.SQL),
		Logger: log,
		Events: events,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("service_started", fmt.Sprintf("API server started on port %d", cfg.Server.Port), requestID, map[string]interface{}{
			"port":            cfg.Server.Port,
			"rabbitmq":        cfg.RabbitMQ.Enabled,
			"enforce_window":  cfg.Ordering.EnforceWindow,
			"school_timezone": cfg.Ordering.Timezone,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
		log.Info("graceful_shutdown", "Received shutdown signal", requestID, nil)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runNotificationSubscriber logs meal events until ctx is cancelled
func runNotificationSubscriber(ctx context.Context, cfg *config.Config, log *logger.Logger, prefetch int) error {
	conn, err := messaging.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}
	defer conn.Close()

	hostname, _ := os.Hostname()
	consumer := messaging.NewConsumer(conn, log, messaging.NotificationsQueue, "notifications-"+hostname, prefetch)
	return notification.NewSubscriber(consumer, log).Start(ctx)
}

// runMigrations applies pending migrations and exits
func runMigrations(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	return db.RunMigrations(ctx, migrations.FS)
}

// createAdmin bootstraps an active administrator account
func createAdmin(ctx context.Context, cfg *config.Config, log *logger.Logger, login, password string) error {
	if password == "" {
		password = os.Getenv("ADMIN_PASSWORD")
	}
	if password == "" {
		return errors.New("--password or ADMIN_PASSWORD is required")
	}

	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	users := accounts.NewService(pgstore.New(db.SQL), nil, log)
	user, err := users.AddUser(ctx, accounts.NewUserRequest{
		RegisterRequest: accounts.RegisterRequest{
			Login:     login,
			Password:  password,
			FirstName: "Administrator",
			LastName:  "Administrator",
		},
		Role:   models.RoleAdmin,
		Status: models.StatusActive,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Administrator %q created with id %d\n", user.Login, user.ID)
	return nil
}

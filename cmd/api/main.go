package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/astra-go-api/internal/config"
	"github.com/noah-isme/astra-go-api/internal/database"
	"github.com/noah-isme/astra-go-api/internal/handler"
	"github.com/noah-isme/astra-go-api/internal/middleware"
	"github.com/noah-isme/astra-go-api/internal/models"
	"github.com/noah-isme/astra-go-api/internal/repository"
	"github.com/noah-isme/astra-go-api/internal/router"
	"github.com/noah-isme/astra-go-api/internal/service"
	"github.com/noah-isme/astra-go-api/pkg/exerciseservice"
	"github.com/noah-isme/astra-go-api/pkg/storage"
)

const pairLockTTL = 2 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnLifetime,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.CourseConfig{},
		&models.Category{},
		&models.ExerciseRound{},
		&models.LearningObject{},
		&models.Submission{},
		&models.SubmittedFile{},
		&models.DeadlineDeviation{},
		&models.SubmissionLimitDeviation{},
		&models.RoundGrade{},
		&models.GradebookItem{},
		&models.CalendarEvent{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var (
		redisClient *redis.Client
		locker      service.PairLocker
	)
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		locker = service.NewRedisPairLocker(redisClient, pairLockTTL)
	} else {
		logger.Warn().Msg("redis not configured, using in-process submission locks and no grade cache")
		locker = service.NewLocalPairLocker()
	}

	var (
		gradebookSink service.GradebookSink
		calendarSink  service.CalendarSink
	)
	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer drainNATS(natsConn)
		sink := service.NewNATSSink(natsConn, cfg.NATSSubject, logger)
		gradebookSink, calendarSink = sink, sink
	} else {
		sink := service.NewLogSink(logger)
		gradebookSink, calendarSink = sink, sink
	}

	files, err := newFileStore(cfg, logger)
	if err != nil {
		log.Fatalf("failed to configure submission storage: %v", err)
	}

	grader := exerciseservice.New(exerciseservice.Config{
		Timeout:                cfg.GradingTimeout,
		OverrideSubmissionHost: cfg.OverrideSubmissionHost,
	}, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())

	courseRepo := repository.NewCourseRepository(db)
	roundRepo := repository.NewRoundRepository(db)
	objectRepo := repository.NewLearningObjectRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	deviationRepo := repository.NewDeviationRepository(db)
	gradebookRepo := repository.NewGradebookRepository(db)

	gradeService := service.NewGradeService(roundRepo, objectRepo, submissionRepo, gradebookRepo, gradebookSink, redisClient, cfg.GradeCacheTTL, logger)
	calendarService := service.NewCalendarService(gradebookRepo, calendarSink, logger)
	deviationService := service.NewDeviationService(objectRepo, deviationRepo, validate, logger)
	submissionService := service.NewSubmissionService(service.SubmissionDependencies{
		Objects:     objectRepo,
		Submissions: submissionRepo,
		Deviations:  deviationRepo,
		Courses:     courseRepo,
		Grades:      gradeService,
		Grader:      grader,
		Files:       files,
		Locker:      locker,
	}, validate, service.SubmissionConfig{
		SecretKey:      cfg.SecretKey,
		PublicURL:      cfg.PublicURL,
		WaitingTimeout: cfg.WaitingTimeout,
	}, logger)
	structureService, err := service.NewStructureService(service.StructureDependencies{
		Courses:     courseRepo,
		Rounds:      roundRepo,
		Objects:     objectRepo,
		Submissions: submissionRepo,
		Grades:      gradeService,
		Calendar:    calendarService,
	}, validate, logger)
	if err != nil {
		log.Fatalf("failed to create structure service: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    64 * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.AllowOrigins,
		AccessLog:    cfg.AccessLog,
	})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, logger),
		AsyncHandler:      handler.NewAsyncHandler(submissionService, logger),
		GradeHandler:      handler.NewGradeHandler(gradeService, logger),
		StructureHandler:  handler.NewStructureHandler(structureService, logger),
		DeviationHandler:  handler.NewDeviationHandler(deviationService, logger),
		JWTMiddleware:     middleware.JWTProtected(middleware.JWTOptions{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, Leeway: cfg.JWTLeeway}),
		HealthProbes:      healthProbes(db, redisClient, natsConn),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go recheckWaiting(ctx, submissionService, cfg.RecheckInterval, logger)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(ctx, app)
}

func newFileStore(cfg config.Config, logger zerolog.Logger) (storage.Store, error) {
	if cfg.StorageDriver == "cloudinary" {
		return storage.NewCloudinaryStore(storage.CloudinaryConfig{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
	}
	return storage.NewFSStore(cfg.StoragePath)
}

// recheckWaiting periodically fails submissions whose asynchronous grading never reported back.
func recheckWaiting(ctx context.Context, submissions service.SubmissionService, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := submissions.RecheckWaiting(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("failed to recheck waiting submissions")
				continue
			}
			if expired > 0 {
				logger.Info().Int("expired", expired).Msg("waiting submissions marked as failed")
			}
		}
	}
}

func healthProbes(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) map[string]handler.HealthProbe {
	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	if natsConn != nil {
		probes["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return fmt.Errorf("nats status %s", natsConn.Status())
			}
			return nil
		}
	}
	return probes
}

func drainNATS(conn *nats.Conn) {
	if err := conn.Drain(); err != nil {
		log.Printf("failed to drain nats connection: %v", err)
	}
}

func waitForShutdown(shutdownCtx context.Context, app *fiber.App) {
	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}

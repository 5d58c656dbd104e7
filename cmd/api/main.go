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

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/scheduler"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/buildreport"
	cloud "github.com/noah-isme/gema-grader/pkg/cloudinary"
	"github.com/noah-isme/gema-grader/pkg/docker"
	"github.com/noah-isme/gema-grader/pkg/vcs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	db, err := database.ConnectPostgres(appCtx, cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(appCtx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	gitlab, err := vcs.NewGitLab(vcs.Config{BaseURL: cfg.GitLabURL, Token: cfg.GitLabToken}, logger)
	if err != nil {
		log.Fatalf("failed to create gitlab client: %v", err)
	}

	var archiver service.BuildLogArchiver
	if cfg.ArchiveEnabled() {
		archive, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.BuildLogFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		archiver = archive
	} else {
		logger.Warn().Msg("cloudinary not configured, build logs of failed builds stay in the database only")
	}

	executor, err := docker.NewDockerExecutor(docker.Config{
		Host:          cfg.DockerHost,
		Timeout:       cfg.BuildTimeout,
		MemoryLimitMB: int64(cfg.BuildMemoryMB),
		CPUShares:     int64(cfg.BuildCPUShares),
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("failed to create docker executor: %v", err)
	}
	defer executor.Close()

	runner := docker.NewRunner(executor, docker.NewWebhookReporter(cfg.GradingURL, cfg.CISharedSecret), docker.RunnerConfig{
		Concurrency: int64(cfg.BuildConcurrency),
		Timeout:     cfg.BuildTimeout,
	}, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())

	exerciseRepo := repository.NewExerciseRepository(db)
	participationRepo := repository.NewParticipationRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	resultRepo := repository.NewResultRepository(db)
	complaintRepo := repository.NewComplaintRepository(db)

	claimer := service.NewRedisClaimer(redisClient, "gema:claims", cfg.ClaimTTL)
	publisher := service.NewResultPublisher(redisClient, natsConn, cfg.ChannelBase, logger)
	activityService := service.NewActivityService(repository.NewActivityLogRepository(db), logger)
	locker := service.NewParticipationLockService(participationRepo, gitlab, logger)

	testCaseService := service.NewTestCaseService(exerciseRepo, repository.NewTestCaseRepository(db), validate, activityService, logger)
	policyService := service.NewSubmissionPolicyService(exerciseRepo, repository.NewSubmissionPolicyRepository(db), participationRepo, submissionRepo, gitlab, locker, validate, activityService, service.SubmissionPolicyConfig{FanOut: cfg.SchedulerFanOut}, logger)
	gradingService := service.NewGradingService(service.GradingDependencies{
		Exercises:      exerciseRepo,
		Participations: participationRepo,
		Submissions:    submissionRepo,
		Results:        resultRepo,
		TestCases:      testCaseService,
		Policies:       policyService,
		VCS:            gitlab,
		CI:             runner,
		Locker:         locker,
		Archiver:       archiver,
		Publisher:      publisher,
		Claimer:        claimer,
		Activity:       activityService,
		Validator:      validate,
		FanOut:         cfg.SchedulerFanOut,
	}, logger)
	assessmentService := service.NewAssessmentService(service.AssessmentDependencies{
		Exercises:      exerciseRepo,
		Participations: participationRepo,
		Submissions:    submissionRepo,
		Results:        resultRepo,
		Claimer:        claimer,
		Publisher:      publisher,
		Activity:       activityService,
		Validator:      validate,
	}, service.AssessmentConfig{LockLimit: cfg.LockLimit}, logger)
	complaintService := service.NewComplaintService(service.ComplaintDependencies{
		Exercises:      exerciseRepo,
		Participations: participationRepo,
		Results:        resultRepo,
		Complaints:     complaintRepo,
		Claimer:        claimer,
		Publisher:      publisher,
		Activity:       activityService,
		Validator:      validate,
	}, service.ComplaintConfig{Window: cfg.ComplaintWindow}, logger)
	resultService := service.NewResultService(exerciseRepo, participationRepo, resultRepo, logger)

	timers := scheduler.New(logger)
	exerciseScheduler := scheduler.NewExerciseScheduler(timers, scheduler.ExerciseDependencies{
		Exercises:      exerciseRepo,
		Participations: participationRepo,
		Grader:         gradingService,
		VCS:            gitlab,
		Locker:         locker,
		Publisher:      publisher,
	}, logger)
	instanceMessages := scheduler.NewInstanceMessages(natsConn, cfg.ChannelBase, exerciseScheduler, participationRepo, logger)

	participationService := service.NewParticipationService(exerciseRepo, participationRepo, submissionRepo, locker, instanceMessages, activityService, logger)
	resultStream := service.NewResultStream(participationRepo, redisClient, natsConn, cfg.ChannelBase, logger)

	if err := resultStream.Start(appCtx); err != nil {
		log.Fatalf("failed to subscribe to result events: %v", err)
	}

	if cfg.SchedulerEnabled {
		if err := instanceMessages.Start(appCtx); err != nil {
			log.Fatalf("failed to subscribe to schedule requests: %v", err)
		}
		planned, err := exerciseScheduler.ScheduleAll(appCtx)
		if err != nil {
			logger.Error().Err(err).Msg("failed to schedule upcoming exercises")
		}
		logger.Info().Int("exercises", planned).Msg("exercise lifecycle scheduled")
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.CORSOrigins,
		Development:  cfg.Development(),
	})
	router.Register(app, cfg, router.Dependencies{
		BuildResultHandler:   handler.NewBuildResultHandler(gradingService, buildreport.MustNew(), logger),
		AssessmentHandler:    handler.NewAssessmentHandler(assessmentService, complaintService, logger),
		ResultHandler:        handler.NewResultHandler(resultService, assessmentService, complaintService, logger),
		ParticipationHandler: handler.NewParticipationHandler(gradingService, policyService, participationService, logger),
		ExerciseHandler:      handler.NewExerciseHandler(gradingService, testCaseService, policyService, instanceMessages, logger),
		ActivityHandler:      handler.NewActivityHandler(activityService, logger),
		ResultStreamHandler:  handler.NewResultStreamHandler(resultStream, logger),
		JWTMiddleware:        middleware.JWTProtected(cfg.JWTSecret),
		CIMiddleware:         middleware.CISharedSecret(cfg.CISharedSecret),
		HealthProbes:         healthProbes(db, redisClient, natsConn),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, func(ctx context.Context) {
		cancelApp()
		if err := timers.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("scheduled tasks did not finish")
		}
		if err := runner.Close(ctx); err != nil {
			logger.Warn().Err(err).Msg("running builds did not finish")
		}
	})
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
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}
	if natsConn != nil {
		probes["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return fmt.Errorf("nats %s", natsConn.Status())
			}
			return nil
		}
	}
	return probes
}

func waitForShutdown(app *fiber.App, cleanup func(ctx context.Context)) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	cleanup(ctx)

	log.Println("server stopped")
}

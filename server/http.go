package server

import (
	"context"
	"courtcam/calibration"
	"courtcam/camera"
	"courtcam/chessboard"
	"courtcam/config"
	"courtcam/constant"
	jobHandler "courtcam/handler"
	"courtcam/media"
	"courtcam/pkg/detector"
	"courtcam/pkg/ffmpeg"
	"courtcam/pkg/mqtt"
	"courtcam/pkg/objectstore"
	"courtcam/pkg/rabbitmq"
	"courtcam/pkg/workerpool"
	"courtcam/repository"
	"courtcam/service"
	"courtcam/undistort"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

const shutdownTimeout = 30 * time.Second

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := config.NewDB(cfg.Database, cfg.App.Environment)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewDB")
	}
	repo := repository.NewRepo(db)
	if err := repo.Migrate(ctx); err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("Migrate")
	}

	lib := media.New(cfg.Media)
	runner := ffmpeg.New(cfg.FFmpeg)
	pool := workerpool.New(ctx, cfg.Server.Workers)
	defer pool.Close()

	recordings, err := lib.Dir(constant.AssetKindRecording)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("media dir")
	}
	calibFrames, err := lib.Dir(constant.AssetKindCalibration)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("media dir")
	}
	undistorted, err := lib.Dir(constant.AssetKindUndistorted)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("media dir")
	}

	cam := camera.NewResource(cfg.Camera, recordings, camera.NewFFmpegDriver(cfg.Camera, runner), runner)
	go func() {
		if err := cam.Open(ctx); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("device", cfg.Camera.Device).Msg("camera unavailable")
		}
	}()

	board := calibration.Board{Cols: cfg.Calibration.BoardCols, Rows: cfg.Calibration.BoardRows, Square: 1}
	store := calibration.NewStore(chessboard.NewDetector(board), board, cfg.Calibration.MinSamples, cfg.Calibration.MaxSamples)
	calib := calibration.NewService(cam, store, pool, board, cfg.Calibration.Dir, calibFrames)
	engine := undistort.New(cfg.Undistort, calib, runner, pool, undistorted, filepath.Join(cfg.Calibration.Dir, "maps"))

	var (
		publishers service.Publishers
		mirror     *objectstore.Mirror
		conn       *amqp.Connection
	)
	if cfg.Queue != nil && cfg.Queue.Enabled {
		conn, err = config.NewRabbitMQConn(ctx, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
		} else if pub, err := rabbitmq.NewPublisher(conn, cfg.Queue); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewPublisher")
		} else {
			defer pub.Close()
			publishers = append(publishers, pub)
		}
	}
	if cfg.MQTT.Enabled {
		pub, err := mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("mqtt connect")
		} else {
			defer pub.Close()
			publishers = append(publishers, pub)
		}
	}
	client, err := config.NewStorage(cfg.MinIO)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewStorage")
	} else if client != nil {
		mirror = objectstore.New(client, cfg.MinIO.Bucket, cfg.MinIO.Prefix)
	}

	var opts []service.Option
	if len(publishers) > 0 {
		opts = append(opts, service.WithPublisher(publishers))
	}
	if mirror != nil {
		opts = append(opts, service.WithMirror(mirror))
	}
	svc := service.NewService(ctx, cfg, repo, lib, runner, detector.New(cfg.Detector), opts...)

	if conn != nil {
		consumer := rabbitmq.NewConsumer(conn, cfg.Queue, cfg.Server.Workers, jobHandler.JobHandler)
		go func() {
			err := consumer.Consume(ctx, jobHandler.ServiceDependencies{Orchestrator: svc})
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("Job consumer error")
			}
		}()
	}

	deps := jobHandler.HttpDependencies{
		Config:       cfg,
		Repo:         repo,
		Media:        lib,
		Describer:    runner,
		Camera:       cam,
		Calibration:  calib,
		Undistort:    engine,
		Frames:       service.NewFrameInspector(repo, lib, runner),
		Orchestrator: svc,
	}
	if mirror != nil {
		deps.Mirror = mirror
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(ctx))
	addHealth(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if lib.URLPrefix != "" {
		r.Static(lib.URLPrefix, lib.Root)
	}
	jobHandler.NewHttpHandler(deps).Register(r)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("port", cfg.Server.HttpPort).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}
	svc.Wait()
	if err := cam.Close(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("camera close")
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

// requestLogger puts the server logger on every request context and logs the
// outcome of API calls.
func requestLogger(ctx context.Context) gin.HandlerFunc {
	base := zerolog.Ctx(ctx)
	return func(c *gin.Context) {
		started := time.Now()
		logger := base.With().Str("method", c.Request.Method).Str("path", c.Request.URL.Path).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
		if c.FullPath() == "/health" || c.FullPath() == "/metrics" {
			return
		}
		logger.Debug().Int("status", c.Writer.Status()).Dur("took", time.Since(started)).Msg("request")
	}
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if lvl, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil && cfg.App.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}

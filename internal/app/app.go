package app

import (
	"context"
	"log/slog"

	httpapp "galleria/internal/app/http"
	"galleria/internal/clients/twitter"
	"galleria/internal/config"
	"galleria/internal/lib/logger/sl"
	"galleria/internal/repository"
	"galleria/internal/services/dispatch"
	gallery "galleria/internal/services/gallery_service"
	images "galleria/internal/services/image_service"
	"galleria/internal/services/slug"
	"galleria/internal/services/thumbnail"
	storage "galleria/internal/storage/filestorage"
	"galleria/internal/storage/postgresql"
	redisapp "galleria/internal/storage/redis"
	"galleria/internal/storage/s3storage"
	httprouters "galleria/internal/transport/http"
)

type App struct {
	log        *slog.Logger
	HTTPServer *httpapp.Server
	Scheduler  *dispatch.Scheduler
	db         *postgresql.Storage
	redis      *redisapp.Client
}

// New собирает все зависимости; любая ошибка конфигурации или подключения
// приводит к панике при старте
func New(ctx context.Context, log *slog.Logger, cfg *config.Config) *App {
	db, err := postgresql.New(ctx, cfg.DSN)
	if err != nil {
		panic(err)
	}

	if err := db.Migrate(ctx); err != nil {
		panic(err)
	}

	rdb, err := redisapp.Connect(ctx, cfg.Redis.RedisAddr, cfg.Redis.RedisPassword, cfg.Redis.RedisDB)
	if err != nil {
		panic(err)
	}

	repo := repository.NewRepository(db.Pool(), rdb)

	files, mediaDir := mustFileStorage(cfg)

	background, err := thumbnail.ParseHexColor(cfg.Thumbnail.Background)
	if err != nil {
		panic(err)
	}

	compositor, err := thumbnail.New(log, files, thumbnail.Options{
		Width:       cfg.Thumbnail.Width,
		Height:      cfg.Thumbnail.Height,
		Margin:      cfg.Thumbnail.Margin,
		Background:  background,
		Quality:     cfg.Thumbnail.Quality,
		GalleryRoot: cfg.FileStorage.GalleryRoot,
		Timeout:     cfg.Thumbnail.Timeout,
	})
	if err != nil {
		panic(err)
	}

	slugs := slug.New(log, repo.Gallery)

	galleryService := gallery.NewGalleryService(log, repo.Gallery, repo.Removed, repo.Image, repo.Rating, slugs, files, compositor)
	imageService := images.NewImageService(log, repo.Gallery, repo.Image, files, compositor, slugs, cfg.FileStorage.GalleryRoot)

	poster := twitter.NewClient(log, cfg.Dispatcher.Endpoint, cfg.Dispatcher.Rate, cfg.Dispatcher.Timeout)
	dispatcher := dispatch.New(log, cfg.Feeds, poster, repo.Update, repo.Claim, dispatch.Options{
		Timeout:   cfg.Dispatcher.Timeout,
		ClaimTTL:  cfg.Dispatcher.ClaimTTL,
		BatchSize: cfg.Dispatcher.BatchSize,
		Workers:   cfg.Dispatcher.Workers,
	})

	scheduler, err := dispatch.NewScheduler(log, dispatcher, cfg.Dispatcher.Schedule)
	if err != nil {
		panic(err)
	}

	routers := httprouters.NewRouter(log, galleryService, imageService, dispatcher)

	server := httpapp.New(log, cfg.HTTP.Host, cfg.HTTP.Port, mediaDir, routers, map[string]httpapp.HealthChecker{
		"postgres": db,
		"redis":    rdb,
	})

	log.Info("application assembled",
		slog.String("file_storage", cfg.FileStorage.Driver),
		slog.Int("feeds", len(cfg.Feeds)),
	)

	return &App{
		log:        log,
		HTTPServer: server,
		Scheduler:  scheduler,
		db:         db,
		redis:      rdb,
	}
}

// Stop останавливает компоненты в обратном порядке
func (a *App) Stop() {
	a.Scheduler.Stop()

	if err := a.HTTPServer.Stop(); err != nil {
		a.log.Error("failed to stop http server", sl.Err(err))
	}

	if err := a.redis.Close(); err != nil {
		a.log.Error("failed to close redis", sl.Err(err))
	}

	a.db.Stop()
}

// mustFileStorage returns the configured blob store and, for the local
// driver, the directory to serve under /media.
func mustFileStorage(cfg *config.Config) (storage.FileStorage, string) {
	fs := cfg.FileStorage

	switch fs.Driver {
	case "s3":
		s3, err := s3storage.New(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, cfg.S3.BaseURL, cfg.S3.UseSSL, fs.MaxSize)
		if err != nil {
			panic(err)
		}
		return s3, ""
	case "local", "":
		local, err := storage.NewLocalFileStorage(fs.BaseDir, fs.BaseURL, fs.MaxSize)
		if err != nil {
			panic(err)
		}
		return local, fs.BaseDir
	default:
		panic("unknown file storage driver: " + fs.Driver)
	}
}

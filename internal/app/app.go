package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"vetchat_backend/internal/config"
	"vetchat_backend/internal/controller"
	"vetchat_backend/internal/repository"
	"vetchat_backend/internal/service"
	"vetchat_backend/pkg/configwatcher"
	"vetchat_backend/pkg/database"
	"vetchat_backend/pkg/logger"
	"vetchat_backend/pkg/monitoring"
	"vetchat_backend/pkg/security"
	"vetchat_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user    *repository.UserRepository
	session *repository.SessionRepository
}

type services struct {
	auth     *service.AuthService
	storage  *service.StorageService
	vector   *service.VectorService
	context  *service.ContextService
	prompt   *service.PromptService
	llama    *service.LlamaService
	openai   *service.OpenAIService
	registry *service.ModelRegistryService
	chat     *service.ChatService
}

type controllers struct {
	auth   *controller.AuthController
	llm    *controller.LLMController
	health *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client) *repositories {
	return &repositories{
		user:    repository.NewUserRepository(db),
		session: repository.NewSessionRepository(db, rdb),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config) *services {
	s := &services{}

	s.auth = service.NewAuthService(repos.user, cfg)

	if cfg.Storage.Type == "minio" {
		storage, err := service.NewStorageService(cfg.Storage)
		if err != nil {
			logger.Log.Error("Failed to initialize object storage, image upload disabled", zap.Error(err))
		} else {
			s.storage = storage
		}
	}

	s.vector = service.NewVectorService(cfg.Vector)
	s.context = service.NewContextService(s.vector, cfg.Vector)
	s.prompt = service.NewPromptService()

	if cfg.LLM.Llama.Enabled {
		llama, err := service.NewLlamaService(cfg.LLM.Llama)
		if err != nil {
			logger.Log.Error("Failed to load local GGUF model, local backend disabled", zap.Error(err))
		} else {
			s.llama = llama
		}
	}

	if cfg.LLM.OpenAI.APIKey != "" {
		s.openai = service.NewOpenAIService(cfg.LLM.OpenAI)
	}

	var local service.GenerationBackend
	if s.llama != nil {
		local = s.llama
	}
	s.registry = service.NewModelRegistryService(cfg.LLM, local, s.openai)

	s.chat = service.NewChatService(repos.session, s.context, s.prompt, s.registry)
	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:   controller.NewAuthController(s.auth, s.storage),
		llm:    controller.NewLLMController(s.chat, s.registry),
		health: controller.NewHealthController(db, rdb, s.vector),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests == 0 {
		maxRequests = 600
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window == 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Redis 없이도 동작한다. 캐시만 꺼진다.
	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Warn("Redis unavailable, running without cache", zap.Error(err))
		rdb = nil
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db, rdb)
	services := app.initServices(repos, cfg)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	monitoring.Init()

	gin.SetMode(cfg.Server.Mode)
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		_, err := tracing.InitTracer("vetchat-backend", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers, cfg)

	go configwatcher.WatchConfig("configs/config.yaml", cfg, func(newCfg interface{}) {
		reloaded, ok := newCfg.(*config.Config)
		if !ok {
			return
		}
		logger.Log.Info("Config reloaded")
		for _, callback := range app.configCallbacks {
			callback(reloaded)
		}
	})

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 진행 중인 로컬 생성 작업을 정리한다
	if a.services != nil && a.services.llama != nil {
		a.services.llama.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

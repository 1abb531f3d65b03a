// @title VetChat 백엔드 API
// @version 1.0
// @description 반려동물 의료 상담 챗봇의 백엔드 서버.

// @contact.name API 지원

// @host localhost:8080
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"log"
	"vetchat_backend/internal/app"
	"vetchat_backend/internal/config"
	"vetchat_backend/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	application.Run()
}

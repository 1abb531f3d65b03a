package controller

import (
	"net/http"
	"vetchat_backend/internal/service"
	"vetchat_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type HealthController struct {
	DB     *gorm.DB
	Redis  *redis.Client
	Vector *service.VectorService
}

func NewHealthController(db *gorm.DB, rdb *redis.Client, vector *service.VectorService) *HealthController {
	return &HealthController{DB: db, Redis: rdb, Vector: vector}
}

// HealthCheck godoc
// @Summary 상태 점검
// @Description DB, Redis, 벡터 인덱스 연결 상태를 확인한다
// @Tags 시스템
// @Produce json
// @Success 200 {object} util.Response
// @Failure 503 {object} util.Response
// @Router /api/health [get]
func (c *HealthController) HealthCheck(ctx *gin.Context) {
	components := gin.H{}
	healthy := true

	sqlDB, err := c.DB.DB()
	if err != nil || sqlDB.Ping() != nil {
		components["database"] = "down"
		healthy = false
	} else {
		components["database"] = "up"
	}

	if c.Redis != nil {
		if err := c.Redis.Ping(ctx.Request.Context()).Err(); err != nil {
			components["redis"] = "down"
		} else {
			components["redis"] = "up"
		}
	} else {
		components["redis"] = "disabled"
	}

	// 벡터 인덱스는 없어도 서비스는 동작한다. 상태만 보고한다.
	if err := c.Vector.Heartbeat(ctx.Request.Context()); err != nil {
		components["vector"] = "down"
	} else {
		components["vector"] = "up"
	}

	if !healthy {
		util.Error(ctx, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	util.Success(ctx, gin.H{
		"status":     "ok",
		"components": components,
	})
}

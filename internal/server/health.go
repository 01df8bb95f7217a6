package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Health answers 200 while the database responds to a ping and 503
// otherwise.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, healthResponse{Status: "ok"})
	}
}

package handler

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"imagelens/internal/bootstrap"
)

type HealthHandler struct {
	app *bootstrap.App
}

type dependencyStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type engineStatus struct {
	Capacity int `json:"capacity"`
	InFlight int `json:"in_flight"`
}

func NewHealthHandler(app *bootstrap.App) *HealthHandler {
	return &HealthHandler{app: app}
}

func (h *HealthHandler) Check(c *gin.Context) {
	uploadStatus := h.checkUploadDir()
	dependencies := gin.H{"uploads": uploadStatus}
	allOK := uploadStatus.OK

	if h.app.Config.RabbitMQ.URL != "" {
		rmqStatus := h.checkRabbitMQ()
		dependencies["rabbitmq"] = rmqStatus
		allOK = allOK && rmqStatus.OK
	}

	statusCode := http.StatusOK
	if !allOK {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"app":        h.app.Config.App.Name,
		"env":        h.app.Config.App.Env,
		"uptime_sec": int(time.Since(h.app.StartedAt).Seconds()),
		"engine": engineStatus{
			Capacity: h.app.Engine.Capacity(),
			InFlight: h.app.Engine.InFlight(),
		},
		"dependencies": dependencies,
	})
}

// checkUploadDir passes when the directory exists or has not been created
// yet; it is created on the first upload.
func (h *HealthHandler) checkUploadDir() dependencyStatus {
	info, err := os.Stat(h.app.Store.Dir())
	if os.IsNotExist(err) {
		return dependencyStatus{OK: true, Message: "not created yet"}
	}
	if err != nil {
		return dependencyStatus{OK: false, Message: err.Error()}
	}
	if !info.IsDir() {
		return dependencyStatus{OK: false, Message: "upload path is not a directory"}
	}
	return dependencyStatus{OK: true}
}

func (h *HealthHandler) checkRabbitMQ() dependencyStatus {
	if h.app.MQConn == nil || h.app.MQConn.IsClosed() {
		return dependencyStatus{OK: false, Message: "connection closed"}
	}
	return dependencyStatus{OK: true}
}

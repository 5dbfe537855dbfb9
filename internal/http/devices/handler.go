// Package devices exposes the device session registry over HTTP.
package devices

import (
	"errors"
	"net/http"
	"time"

	"devicegate/internal/domain/models"
	"devicegate/internal/lib/api"
	"devicegate/internal/middleware"
	"devicegate/internal/services/registry"
	"devicegate/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// deviceIDCookieMaxAge keeps the device identity for a year, matching the
// lifetime of the client-side copy.
const deviceIDCookieMaxAge = 60 * 60 * 24 * 365

type Handler struct {
	registry          *registry.Registry
	heartbeatInterval time.Duration
}

func NewHandler(reg *registry.Registry, heartbeatInterval time.Duration) *Handler {
	return &Handler{
		registry:          reg,
		heartbeatInterval: heartbeatInterval,
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	d := rg.Group("/device", authMW)
	d.POST("/check", h.check)
	d.POST("/register", h.register)
	d.POST("/replace", h.replace)
	d.POST("/heartbeat", h.heartbeat)
	d.POST("/remove", h.remove)

	rg.GET("/devices", authMW, h.listDevices)
	rg.GET("/config", authMW, h.clientConfig)
}

type deviceRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
}

type registerRequest struct {
	DeviceID   string `json:"deviceId"`
	Descriptor string `json:"descriptor"`
}

type replaceRequest struct {
	EvictDeviceID string `json:"evictDeviceId" binding:"required"`
	DeviceID      string `json:"deviceId" binding:"required"`
	Descriptor    string `json:"descriptor"`
}

type deviceView struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	LastActive time.Time `json:"lastActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toDeviceViews(sessions []models.DeviceSession) []deviceView {
	views := make([]deviceView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, deviceView{
			DeviceID:   s.DeviceID,
			DeviceName: s.DeviceName,
			LastActive: s.LastActiveAt,
			CreatedAt:  s.CreatedAt,
		})
	}
	return views
}

// check combines the liveness lookup with conflict evaluation so a returning
// client learns in one round-trip whether it was signed out elsewhere and
// whether logging in here would require evicting another device.
func (h *Handler) check(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		api.Unauthorized(c, "unauthorized")
		return
	}

	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.BadRequest(c, "deviceId required")
		return
	}

	active, err := h.registry.IsDeviceActive(c.Request.Context(), identity.AccountID, req.DeviceID)
	if err != nil {
		h.fail(c, err)
		return
	}

	decision, err := h.registry.EvaluateLogin(c.Request.Context(), identity.AccountID, req.DeviceID)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := gin.H{
		"isActive":        active,
		"hasConflict":     !decision.Admit,
		"existingDevices": toDeviceViews(decision.ExistingDevices),
		"deviceCount":     decision.Count,
	}
	if !active {
		// Same force-sign-out signal the heartbeat path carries: a device
		// without a session must terminate its local session.
		resp["forceLogout"] = true
	}

	api.OK(c, resp)
}

func (h *Handler) register(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		api.Unauthorized(c, "unauthorized")
		return
	}

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.BadRequest(c, "invalid request body")
		return
	}

	// Clients normally generate and persist their own device id; mint one
	// for a client that lost or never had it.
	if req.DeviceID == "" {
		req.DeviceID = uuid.New().String()
	}

	descriptor := req.Descriptor
	if descriptor == "" {
		descriptor = c.Request.UserAgent()
	}

	err := h.registry.Register(c.Request.Context(), identity.AccountID, req.DeviceID, descriptor)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie("deviceId", req.DeviceID, deviceIDCookieMaxAge, "/", "", false, true)

	api.OK(c, gin.H{"success": true, "deviceId": req.DeviceID})
}

func (h *Handler) replace(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		api.Unauthorized(c, "unauthorized")
		return
	}

	var req replaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.BadRequest(c, "evictDeviceId and deviceId required")
		return
	}

	descriptor := req.Descriptor
	if descriptor == "" {
		descriptor = c.Request.UserAgent()
	}

	err := h.registry.EvictAndRegister(c.Request.Context(), identity.AccountID, req.EvictDeviceID, req.DeviceID, descriptor)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie("deviceId", req.DeviceID, deviceIDCookieMaxAge, "/", "", false, true)

	api.OK(c, gin.H{"success": true, "deviceId": req.DeviceID})
}

func (h *Handler) heartbeat(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		api.Unauthorized(c, "unauthorized")
		return
	}

	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.BadRequest(c, "deviceId required")
		return
	}

	liveness, err := h.registry.Heartbeat(c.Request.Context(), identity.AccountID, req.DeviceID)
	if err != nil {
		h.fail(c, err)
		return
	}

	if liveness == registry.Evicted {
		// Signed out elsewhere: the client must terminate its local session.
		api.OK(c, gin.H{"isActive": false, "forceLogout": true})
		return
	}

	api.OK(c, gin.H{"isActive": true})
}

func (h *Handler) remove(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		api.Unauthorized(c, "unauthorized")
		return
	}

	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.BadRequest(c, "deviceId required")
		return
	}

	if err := h.registry.Disconnect(c.Request.Context(), identity.AccountID, req.DeviceID); err != nil {
		h.fail(c, err)
		return
	}

	api.OK(c, gin.H{"success": true})
}

func (h *Handler) listDevices(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		api.Unauthorized(c, "unauthorized")
		return
	}

	sessions, err := h.registry.ListDevices(c.Request.Context(), identity.AccountID)
	if err != nil {
		h.fail(c, err)
		return
	}

	api.OK(c, gin.H{
		"devices":    toDeviceViews(sessions),
		"maxDevices": h.registry.MaxDevices(),
	})
}

// clientConfig advertises the tunables clients need: how many devices an
// account may hold and how often to heartbeat.
func (h *Handler) clientConfig(c *gin.Context) {
	api.OK(c, gin.H{
		"maxDevices":               h.registry.MaxDevices(),
		"heartbeatIntervalSeconds": int(h.heartbeatInterval.Seconds()),
	})
}

func (h *Handler) fail(c *gin.Context, err error) {
	var conflict *registry.ConflictError
	switch {
	case errors.As(err, &conflict):
		api.Conflict(c, gin.H{
			"error":           "device limit reached",
			"existingDevices": toDeviceViews(conflict.ExistingDevices),
			"deviceCount":     conflict.Count,
		})
	case errors.Is(err, registry.ErrAccountRequired):
		api.Unauthorized(c, "unauthorized")
	case errors.Is(err, registry.ErrDeviceIDRequired):
		api.BadRequest(c, "deviceId required")
	case errors.Is(err, storage.ErrStorageUnavailable):
		api.StorageUnavailable(c)
	default:
		api.InternalError(c)
	}
}

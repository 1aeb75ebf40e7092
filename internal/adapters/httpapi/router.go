package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avrek/voxcall/internal/app"
	"github.com/avrek/voxcall/internal/domain"
)

type DialRequest struct {
	ToUserID string `json:"toUserId"`
}

type VolumeRequest struct {
	Volume float64 `json:"volume"`
}

// Deps is everything the control surface exposes over HTTP.
type Deps struct {
	Registry *app.Registry
	Session  *app.Session
	Notifier *app.Notifier
	SelfID   domain.UserID
	SelfName string
}

func SetupRouter(mode string, deps Deps) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "adapters.http").Str("mode", mode).Msg("router setup")

	api := r.Group("/api")

	api.GET("/call", func(c *gin.Context) { handleCallState(c, deps) })
	api.POST("/call/dial", func(c *gin.Context) { handleDial(c, deps) })
	api.POST("/call/accept", func(c *gin.Context) { handleAccept(c, deps) })
	api.POST("/call/reject", func(c *gin.Context) { handleReject(c, deps) })

	api.GET("/session", func(c *gin.Context) { handleSessionState(c, deps) })
	api.POST("/session/mute", func(c *gin.Context) { handleMute(c, deps) })
	api.POST("/session/volume", func(c *gin.Context) { handleVolume(c, deps) })
	api.POST("/session/hangup", func(c *gin.Context) { handleHangup(c, deps) })

	return r
}

func handleCallState(c *gin.Context, deps Deps) {
	resp := gin.H{
		"activeCall": deps.Registry.ActiveCall.Get(),
		"invite":     deps.Registry.CallInvite.Get(),
	}
	if deps.Notifier != nil {
		resp["caller"] = deps.Notifier.Caller.Get()
		if msg := deps.Notifier.CallerErr.Get(); msg != "" {
			resp["callerError"] = msg
		}
	}
	c.JSON(http.StatusOK, resp)
}

func handleDial(c *gin.Context, deps Deps) {
	var req DialRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ToUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid toUserId"})
		return
	}
	if deps.Registry.ActiveCall.Get() != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "call already in progress"})
		return
	}

	callID := domain.CallID(uuid.NewString())
	err := deps.Registry.CallUser(domain.UserID(req.ToUserID), callID, deps.SelfID, deps.SelfName)
	if err != nil {
		if errors.Is(err, app.ErrInviteRateLimited) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": callID})
}

func handleAccept(c *gin.Context, deps Deps) {
	inv := deps.Registry.CallInvite.Get()
	if inv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending invite"})
		return
	}
	deps.Notifier.Accept(inv)
	c.JSON(http.StatusOK, gin.H{"callId": inv.CallID})
}

func handleReject(c *gin.Context, deps Deps) {
	inv := deps.Registry.CallInvite.Get()
	if inv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending invite"})
		return
	}
	deps.Notifier.Reject(inv)
	c.JSON(http.StatusOK, gin.H{})
}

func handleSessionState(c *gin.Context, deps Deps) {
	s := deps.Session
	resp := gin.H{
		"state":            s.State().String(),
		"callId":           s.CallID(),
		"connecting":       s.Connecting.Get(),
		"muted":            s.IsMuted.Get(),
		"localSpeaking":    s.IsLocalSpeaking.Get(),
		"remoteSpeaking":   s.IsRemoteSpeaking.Get(),
		"remoteVolume":     s.RemoteVolume.Get(),
		"showVolumeSlider": s.ShowVolumeSlider.Get(),
	}
	if msg := s.Err.Get(); msg != "" {
		resp["error"] = msg
	}
	c.JSON(http.StatusOK, resp)
}

func handleMute(c *gin.Context, deps Deps) {
	deps.Session.ToggleMute()
	c.JSON(http.StatusOK, gin.H{"muted": deps.Session.IsMuted.Get()})
}

func handleVolume(c *gin.Context, deps Deps) {
	var req VolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid volume"})
		return
	}
	deps.Session.OnVolumeChange(req.Volume)
	c.JSON(http.StatusOK, gin.H{"volume": deps.Session.RemoteVolume.Get()})
}

func handleHangup(c *gin.Context, deps Deps) {
	deps.Session.Hangup()
	c.JSON(http.StatusOK, gin.H{})
}

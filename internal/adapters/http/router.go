package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceClient/internal/app/layout"
	"github.com/dkeye/VoiceClient/internal/app/orch"
	"github.com/dkeye/VoiceClient/internal/app/session"
	"github.com/dkeye/VoiceClient/internal/domain"
)

// Controller is the part of the orchestrator the control API drives.
type Controller interface {
	Layout() layout.ResolvedLayout
	OnLayout(fn func(layout.ResolvedLayout)) (unsubscribe func())
	Snapshot() orch.Snapshot
	Preferences() domain.LayoutPreferences

	ToggleMute() bool
	ToggleVideo() bool
	StartScreenShare(ctx context.Context) error
	StopScreenShare(ctx context.Context) error

	TogglePin(key domain.StreamKey) (bool, error)
	ReplacePreferences(next domain.LayoutPreferences) error
	SetName(id domain.UserID, name string) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local control surface; the listener is bound to loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const layoutWriteTimeout = 5 * time.Second

// SetupRouter wires the local control API.
// - Status and layout reads under GET /api/*
// - Media toggles and preference writes under POST/PUT /api/*
// - Layout pushes over WebSocket at /api/layout/ws
func SetupRouter(ctx context.Context, ctrl Controller, mode string) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(requestID())

	api := r.Group("/api")

	api.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.Snapshot())
	})

	api.GET("/layout", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.Layout())
	})

	api.GET("/layout/ws", func(c *gin.Context) {
		serveLayout(ctx, c, ctrl)
	})

	api.POST("/mute", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"muted": ctrl.ToggleMute()})
	})

	api.POST("/video", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"video_off": ctrl.ToggleVideo()})
	})

	api.POST("/screen/start", func(c *gin.Context) {
		if err := ctrl.StartScreenShare(c.Request.Context()); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.POST("/screen/stop", func(c *gin.Context) {
		if err := ctrl.StopScreenShare(c.Request.Context()); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	// POST /api/pins/:key toggles one pin
	api.POST("/pins/:key", func(c *gin.Context) {
		key := domain.StreamKey(c.Param("key"))
		pinned, err := ctrl.TogglePin(key)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"stream_key": key, "pinned": pinned})
	})

	api.GET("/prefs", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.Preferences())
	})

	// PUT /api/prefs replaces the whole preference set
	api.PUT("/prefs", func(c *gin.Context) {
		var req domain.LayoutPreferences
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid preferences"})
			return
		}
		if err := ctrl.ReplacePreferences(req); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, ctrl.Preferences())
	})

	api.PUT("/names/:user_id", func(c *gin.Context) {
		var req struct {
			Name string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid name"})
			return
		}
		if err := ctrl.SetName(domain.UserID(c.Param("user_id")), req.Name); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	log.Info().Str("module", "adapters.http").Str("mode", mode).Msg("router setup")
	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrPinLimit):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidMode),
		errors.Is(err, domain.ErrInvalidSelfView),
		errors.Is(err, domain.ErrInvalidTiles),
		errors.Is(err, domain.ErrDisplayNameEmpty),
		errors.Is(err, domain.ErrDisplayNameTooLong):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotJoined), errors.Is(err, session.ErrNoCapture):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).
			Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// serveLayout pushes every resolved layout until the client goes away.
func serveLayout(ctx context.Context, c *gin.Context, ctrl Controller) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("layout ws upgrade failed")
		return
	}
	defer conn.Close()

	updates := make(chan layout.ResolvedLayout, 8)
	unsub := ctrl.OnLayout(func(l layout.ResolvedLayout) {
		select {
		case updates <- l:
		default:
			// Slow reader; it gets the next one.
		}
	})
	defer unsub()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(l layout.ResolvedLayout) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(layoutWriteTimeout))
		return conn.WriteJSON(l) == nil
	}
	if !write(ctrl.Layout()) {
		return
	}
	for seq := 1; ; seq++ {
		select {
		case l := <-updates:
			if !write(l) {
				log.Debug().Str("module", "adapters.http").Int("seq", seq).Msg("layout ws write failed")
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
			return
		}
	}
}

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dkeye/VoiceQueue/internal/app/queue"
	"github.com/dkeye/VoiceQueue/internal/config"
	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sessionKeySID = "sid"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type handlers struct {
	store   *queue.Store
	limiter *RateLimiter
}

func SetupRouter(cfg *config.Config, store *queue.Store) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cs := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceQueueSessions", cs))
	r.Use(ClientTokenMiddleware())

	h := &handlers{store: store, limiter: NewRateLimiter(cfg.JoinLimit, cfg.JoinWindow)}

	r.GET("/health", h.health)

	api := r.Group("/api")
	api.GET("/health", h.health)

	sg := api.Group("/subgroups")
	sg.POST("/create", h.createSubGroup)
	sg.GET("/list", h.listSubGroups)
	sg.DELETE("/delete/:name", h.deleteSubGroup)

	q := api.Group("/queue")
	q.POST("/join", h.join)
	q.GET("/whoami", h.whoami)
	q.GET("/status/:sid", h.status)
	q.POST("/action", h.action)
	q.DELETE("/leave/:sid", h.leave)
	q.GET("/all", h.all)
	q.DELETE("/clear/:subGroup", h.clear)

	rtc := api.Group("/webrtc")
	rtc.POST("/signal", h.postSignal)
	rtc.GET("/signals/:sid", h.drainSignals)
	rtc.GET("/peers", h.peers)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

func fail(c *gin.Context, code int, detail string) {
	c.AbortWithStatusJSON(code, gin.H{"detail": detail})
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "voicequeue"})
}

type createSubGroupRequest struct {
	Name string `json:"name"`
}

func (h *handlers) createSubGroup(c *gin.Context) {
	var req createSubGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "missing or invalid name")
		return
	}
	sg, err := h.store.CreateSubGroup(domain.SubGroupName(req.Name))
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":        sg.ID,
		"name":      sg.Name,
		"createdAt": sg.CreatedAt,
		"message":   fmt.Sprintf("Sub-group '%s' created successfully", sg.Name),
	})
}

func (h *handlers) listSubGroups(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"subgroups": h.store.ListSubGroups()})
}

func (h *handlers) deleteSubGroup(c *gin.Context) {
	name := domain.SubGroupName(c.Param("name"))
	n, err := h.store.DeleteSubGroup(name)
	switch {
	case errors.Is(err, queue.ErrProtectedSubGroup):
		fail(c, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, queue.ErrSubGroupNotFound):
		fail(c, http.StatusNotFound, fmt.Sprintf("Sub-group '%s' not found", name))
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"name":                name,
		"participantsCleared": n,
		"message":             fmt.Sprintf("Sub-group '%s' deleted successfully", name),
	})
}

type joinRequest struct {
	Name     string `json:"name"`
	SubGroup string `json:"subGroup"`
}

func (h *handlers) join(c *gin.Context) {
	token := c.GetString("client_token")
	if !h.limiter.Allow(token) {
		log.Warn().Str("module", "adapters.http").Str("client", token).Msg("join rate limited")
		fail(c, http.StatusTooManyRequests, "too many join attempts, slow down")
		return
	}
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "missing or invalid name")
		return
	}
	res, err := h.store.Join(req.Name, domain.SubGroupName(req.SubGroup))
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	s := sessions.Default(c)
	s.Set(sessionKeySID, string(res.SessionID))
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save session cookie")
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) whoami(c *gin.Context) {
	sid, _ := sessions.Default(c).Get(sessionKeySID).(string)
	if sid == "" {
		fail(c, http.StatusNotFound, "no session for this client")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sid})
}

func (h *handlers) status(c *gin.Context) {
	st, err := h.store.Status(domain.SessionID(c.Param("sid")))
	if err != nil {
		fail(c, http.StatusNotFound, "Participant not found in queue")
		return
	}
	c.JSON(http.StatusOK, st)
}

type actionRequest struct {
	SessionID string `json:"sessionId"`
	Action    string `json:"action"`
}

func (h *handlers) action(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request")
		return
	}
	msg, err := h.store.Action(domain.SessionID(req.SessionID), domain.QueueAction(req.Action))
	switch {
	case errors.Is(err, queue.ErrNotFound):
		fail(c, http.StatusNotFound, "Participant not found in queue")
		return
	case err != nil:
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *handlers) leave(c *gin.Context) {
	sid := c.Param("sid")
	if err := h.store.Leave(domain.SessionID(sid)); err != nil {
		fail(c, http.StatusNotFound, "Participant not found in queue")
		return
	}
	s := sessions.Default(c)
	if cur, _ := s.Get(sessionKeySID).(string); cur == sid {
		s.Delete(sessionKeySID)
		_ = s.Save()
	}
	c.JSON(http.StatusOK, gin.H{"message": "You have left the queue"})
}

func (h *handlers) all(c *gin.Context) {
	ps := h.store.All()
	c.JSON(http.StatusOK, gin.H{"queue": ps, "total": len(ps)})
}

func (h *handlers) clear(c *gin.Context) {
	group := c.Param("subGroup")
	n := h.store.Clear(domain.SubGroupName(group))
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Cleared %d participants from %s", n, group), "count": n})
}

type signalRequest struct {
	From string          `json:"fromSessionId"`
	To   string          `json:"toSessionId"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (h *handlers) postSignal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Data) == 0 {
		fail(c, http.StatusBadRequest, "invalid signal")
		return
	}
	env := domain.Envelope{
		From: domain.SessionID(req.From),
		To:   domain.SessionID(req.To),
		Kind: domain.SignalKind(req.Type),
		Data: req.Data,
	}
	if err := h.store.PostSignal(env); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	log.Debug().Str("module", "adapters.http").Str("type", req.Type).Str("from", req.From).Str("to", req.To).Msg("signal stored")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Signal stored"})
}

func (h *handlers) drainSignals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signals": h.store.DrainSignals(domain.SessionID(c.Param("sid")))})
}

func (h *handlers) peers(c *gin.Context) {
	group := c.Query("subGroup")
	c.JSON(http.StatusOK, gin.H{"peers": h.store.Peers(domain.SubGroupName(group)), "subGroup": group})
}

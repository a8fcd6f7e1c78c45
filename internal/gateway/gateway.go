package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	natsgo "github.com/nats-io/nats.go"

	"github.com/taskhive/taskhive/internal/admin"
	"github.com/taskhive/taskhive/internal/audit"
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/moderation"
	"github.com/taskhive/taskhive/internal/notifications"
	"github.com/taskhive/taskhive/internal/payments"
	"github.com/taskhive/taskhive/internal/settings"
	"github.com/taskhive/taskhive/internal/submissions"
	"github.com/taskhive/taskhive/internal/users"
	"github.com/taskhive/taskhive/pkg/messaging"
)

// Config holds gateway configuration.
type Config struct {
	Port            string
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Gateway is the HTTP and WebSocket surface over the platform services.
type Gateway struct {
	router      *gin.Engine
	cfg         Config
	rateLimiter *RateLimiter

	auth          *auth.Service
	users         *users.Directory
	settings      *settings.Store
	submissions   *submissions.Service
	moderation    *moderation.Service
	payments      *payments.Service
	admin         *admin.Service
	notifications *notifications.Service
	audit         *audit.Recorder
	msgClient     *messaging.Client

	wsMu      sync.RWMutex
	wsClients map[uuid.UUID]*WSClient
}

// WSClient is one connected event-stream consumer.
type WSClient struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Role   string
	Conn   *websocket.Conn
	Send   chan []byte
	Done   chan struct{}
}

// RateLimiter is a per-key sliding window limiter.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func NewGateway(cfg Config, authSvc *auth.Service, dir *users.Directory, st *settings.Store,
	subs *submissions.Service, mod *moderation.Service, pay *payments.Service,
	adm *admin.Service, notif *notifications.Service, auditRec *audit.Recorder,
	msgClient *messaging.Client) *Gateway {
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	g := &Gateway{
		router: gin.Default(),
		cfg:    cfg,
		rateLimiter: &RateLimiter{
			requests: make(map[string][]time.Time),
			limit:    cfg.RateLimitMax,
			window:   cfg.RateLimitWindow,
		},
		auth:          authSvc,
		users:         dir,
		settings:      st,
		submissions:   subs,
		moderation:    mod,
		payments:      pay,
		admin:         adm,
		notifications: notif,
		audit:         auditRec,
		msgClient:     msgClient,
		wsClients:     make(map[uuid.UUID]*WSClient),
	}

	g.setupRoutes()
	g.subscribeEvents()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.rateLimitMiddleware())
	g.router.Use(g.tracingMiddleware())

	g.router.GET("/health", g.healthCheck)

	v1 := g.router.Group("/api/v1")
	{
		v1.POST("/auth/register", g.register)
		v1.POST("/auth/login", g.login)

		v1.GET("/settings", g.getPublicSettings)

		authed := v1.Group("", g.authMiddleware())
		{
			authed.GET("/me", g.getProfile)

			authed.POST("/submissions", g.createSubmission)
			authed.GET("/submissions", g.listMySubmissions)
			authed.GET("/submissions/:id", g.getSubmission)
			authed.POST("/submissions/:id/bonus", g.submitBonus)
			authed.POST("/submissions/:id/appeal", g.appealSubmission)

			authed.GET("/moderation/queue", g.moderationQueue)
			authed.POST("/moderation/votes", g.castVote)
			authed.GET("/moderation/stats", g.moderationStats)
			authed.GET("/moderation/history", g.moderationHistory)

			authed.POST("/payments", g.requestPayment)
			authed.GET("/payments", g.listPayments)
			authed.GET("/payments/:id", g.getPayment)

			authed.GET("/notifications", g.listNotifications)
			authed.POST("/notifications/:id/read", g.markNotificationRead)

			authed.POST("/suspensions/:id/appeal", g.submitSuspensionAppeal)

			authed.GET("/ws", g.handleWebSocket)
		}

		staff := v1.Group("", g.authMiddleware(), g.requireRole(users.RoleAdmin, users.RoleManager))
		{
			staff.GET("/moderation/submissions/:id/votes", g.submissionVotes)
			staff.POST("/payments/review", g.reviewPayment)
			staff.GET("/payments/stats", g.paymentStats)
			staff.GET("/payments/export", g.exportPayments)
			staff.GET("/admin/flagged", g.flaggedUsers)
			staff.GET("/admin/users/:id/suspensions", g.suspensionHistory)
			staff.GET("/admin/users/:id/activity", g.userActivity)
			staff.POST("/admin/appeals/review", g.reviewSuspensionAppeal)
		}

		adminOnly := v1.Group("/admin", g.authMiddleware(), g.requireRole(users.RoleAdmin))
		{
			adminOnly.POST("/users/status", g.setAccountStatus)
			adminOnly.POST("/moderators", g.manageModeratorAccess)
			adminOnly.POST("/moderators/auto-upgrade", g.autoUpgradeModerators)
			adminOnly.GET("/settings", g.getSettings)
			adminOnly.PUT("/settings", g.updateSettings)
		}
	}
}

// Start runs the HTTP server.
func (g *Gateway) Start() error {
	return g.router.Run(":" + g.cfg.Port)
}

// Router exposes the underlying engine for tests.
func (g *Gateway) Router() *gin.Engine {
	return g.router
}

// Middleware

func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := g.auth.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

func (g *Gateway) requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("role")
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
	}
}

func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

func (g *Gateway) healthCheck(c *gin.Context) {
	status := gin.H{"status": "healthy"}
	if g.msgClient != nil {
		status["nats_connected"] = g.msgClient.IsConnected()
		status["nats_reconnects"] = g.msgClient.Reconnects()
	}
	c.JSON(http.StatusOK, status)
}

// Allow reports whether the key may make another request inside the window.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	valid := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}
	rl.requests[key] = append(valid, now)
	return true
}

// WebSocket event stream

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamFrame is what the event stream delivers to clients.
type StreamFrame struct {
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &WSClient{
		ID:     uuid.New(),
		UserID: c.MustGet("user_id").(uuid.UUID),
		Role:   c.GetString("role"),
		Conn:   conn,
		Send:   make(chan []byte, 16),
		Done:   make(chan struct{}),
	}

	g.wsMu.Lock()
	g.wsClients[client.ID] = client
	g.wsMu.Unlock()

	go g.wsReadPump(client)
	go g.wsWritePump(client)
}

func (g *Gateway) wsReadPump(client *WSClient) {
	defer func() {
		g.wsMu.Lock()
		delete(g.wsClients, client.ID)
		g.wsMu.Unlock()
		close(client.Done)
		client.Conn.Close()
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
		// The stream is one-way; inbound frames keep the connection alive.
	}
}

func (g *Gateway) wsWritePump(client *WSClient) {
	for {
		select {
		case message := <-client.Send:
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-client.Done:
			return
		}
	}
}

// subscribeEvents fans platform events out to connected stream clients.
// Moderation and payment events go to the affected user plus staff;
// notifications only to their owner.
func (g *Gateway) subscribeEvents() {
	if g.msgClient == nil {
		return
	}

	forUser := func(pick func(data []byte) (uuid.UUID, bool)) func(msg *natsgo.Msg) {
		return func(msg *natsgo.Msg) {
			userID, ok := pick(msg.Data)
			if !ok {
				return
			}
			frame, err := json.Marshal(StreamFrame{Subject: msg.Subject, Data: msg.Data})
			if err != nil {
				return
			}
			g.deliver(userID, frame)
		}
	}

	pickField := func(field string) func(data []byte) (uuid.UUID, bool) {
		return func(data []byte) (uuid.UUID, bool) {
			var m map[string]json.RawMessage
			if err := json.Unmarshal(data, &m); err != nil {
				return uuid.Nil, false
			}
			raw, ok := m[field]
			if !ok {
				return uuid.Nil, false
			}
			var id uuid.UUID
			if err := json.Unmarshal(raw, &id); err != nil {
				return uuid.Nil, false
			}
			return id, true
		}
	}

	subjects := map[string]func(data []byte) (uuid.UUID, bool){
		messaging.EventTypeSubmissionFinalized:   pickField("user_id"),
		messaging.EventTypeSubmissionUnderReview: pickField("user_id"),
		messaging.EventTypeUserSuspended:         pickField("user_id"),
		messaging.EventTypeUserWarned:            pickField("user_id"),
		messaging.EventTypeModeratorGranted:      pickField("user_id"),
		messaging.EventTypeModeratorRevoked:      pickField("user_id"),
		messaging.EventTypePaymentRequested:      pickField("user_id"),
		messaging.EventTypePaymentReviewed:       pickField("user_id"),
		messaging.EventTypeNotificationCreated:   pickField("user_id"),
	}
	for subject, pick := range subjects {
		if err := g.msgClient.Subscribe(subject, forUser(pick)); err != nil {
			log.Printf("event stream subscribe failed (%s): %v", subject, err)
		}
	}
}

// deliver sends a frame to the user's connections and to staff streams.
func (g *Gateway) deliver(userID uuid.UUID, frame []byte) {
	g.wsMu.RLock()
	defer g.wsMu.RUnlock()

	for _, client := range g.wsClients {
		if client.UserID != userID && client.Role != users.RoleAdmin && client.Role != users.RoleManager {
			continue
		}
		select {
		case client.Send <- frame:
		default:
			// Slow consumer; drop the frame rather than block the fan-out.
		}
	}
}

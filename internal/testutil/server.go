package testutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/roach88/theatresync/internal/domain"
)

// AuthorityServer serves a FakeAuthority over the authority's REST API
// and push channel.
type AuthorityServer struct {
	*httptest.Server
	Fake *FakeAuthority

	token string

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	accepted int
	onConn   chan struct{}
}

// ServerOption configures an AuthorityServer.
type ServerOption func(*AuthorityServer)

// RequireToken makes every request present "Bearer tok".
func RequireToken(tok string) ServerOption {
	return func(s *AuthorityServer) { s.token = tok }
}

// NewAuthorityServer starts a server in front of fake. It is closed when
// the test ends.
func NewAuthorityServer(t interface{ Cleanup(func()) }, fake *FakeAuthority, opts ...ServerOption) *AuthorityServer {
	gin.SetMode(gin.TestMode)
	s := &AuthorityServer{
		Fake:   fake,
		conns:  make(map[*websocket.Conn]struct{}),
		onConn: make(chan struct{}, 64),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	api := r.Group("/api", s.authMiddleware())
	api.GET("/state", s.getState)
	api.POST("/cases", s.createCase)
	api.PUT("/cases/:id", s.updateCase)
	api.DELETE("/cases/:id", s.deleteCase)
	api.POST("/schedules", s.createSchedule)
	api.PUT("/schedules/:id", s.updateSchedule)
	api.DELETE("/schedules/:id", s.deleteSchedule)
	api.POST("/sessions/:id/schedules/reorder", s.reorder)
	api.GET("/push", s.push)

	s.Server = httptest.NewServer(r)
	t.Cleanup(func() {
		s.DropConnections()
		s.Server.Close()
	})
	return s
}

// PushURL is the websocket URL of the push channel.
func (s *AuthorityServer) PushURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/api/push"
}

// Broadcast sends raw to every connected push client.
func (s *AuthorityServer) Broadcast(ctx context.Context, raw []byte) error {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, raw); err != nil {
			return err
		}
	}
	return nil
}

// DropConnections closes every push connection without a handshake.
func (s *AuthorityServer) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.CloseNow()
		delete(s.conns, c)
	}
}

// Accepted returns how many push connections have been accepted.
func (s *AuthorityServer) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Connected receives a value each time a push client connects.
func (s *AuthorityServer) Connected() <-chan struct{} { return s.onConn }

func (s *AuthorityServer) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.Next()
			return
		}
		parts := strings.Split(c.GetHeader("Authorization"), " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] != s.token {
			errorResponse(c, http.StatusUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}
		c.Next()
	}
}

func successResponse(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

func (s *AuthorityServer) getState(c *gin.Context) {
	snap, err := s.Fake.FetchState(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	successResponse(c, snap)
}

func (s *AuthorityServer) createCase(c *gin.Context) {
	var in domain.Case
	if err := c.ShouldBindJSON(&in); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.Fake.CreateCase(c.Request.Context(), in)
	reply(c, out, err)
}

func (s *AuthorityServer) updateCase(c *gin.Context) {
	var in domain.Case
	if err := c.ShouldBindJSON(&in); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	in.ID = c.Param("id")
	out, err := s.Fake.UpdateCase(c.Request.Context(), in)
	reply(c, out, err)
}

func (s *AuthorityServer) deleteCase(c *gin.Context) {
	err := s.Fake.DeleteCase(c.Request.Context(), c.Param("id"))
	reply(c, nil, err)
}

func (s *AuthorityServer) createSchedule(c *gin.Context) {
	var in domain.CaseSchedule
	if err := c.ShouldBindJSON(&in); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.Fake.CreateSchedule(c.Request.Context(), in)
	reply(c, out, err)
}

func (s *AuthorityServer) updateSchedule(c *gin.Context) {
	var in domain.CaseSchedule
	if err := c.ShouldBindJSON(&in); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	in.ID = c.Param("id")
	out, err := s.Fake.UpdateSchedule(c.Request.Context(), in)
	reply(c, out, err)
}

func (s *AuthorityServer) deleteSchedule(c *gin.Context) {
	err := s.Fake.DeleteSchedule(c.Request.Context(), c.Param("id"))
	reply(c, nil, err)
}

func (s *AuthorityServer) reorder(c *gin.Context) {
	var in struct {
		IDs []string `json:"ids"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.Fake.ReorderSchedules(c.Request.Context(), c.Param("id"), in.IDs)
	reply(c, out, err)
}

// reply maps fake authority errors to 422; injected failures become 503.
func reply(c *gin.Context, data any, err error) {
	switch {
	case err == nil:
		successResponse(c, data)
	case errors.Is(err, ErrInjected):
		errorResponse(c, http.StatusServiceUnavailable, err.Error())
	default:
		errorResponse(c, http.StatusUnprocessableEntity, err.Error())
	}
}

func (s *AuthorityServer) push(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	ctx := conn.CloseRead(context.Background())

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.accepted++
	s.mu.Unlock()
	select {
	case s.onConn <- struct{}{}:
	default:
	}

	<-ctx.Done()

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.CloseNow()
}

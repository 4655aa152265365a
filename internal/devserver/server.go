package devserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"pawmart/pkg/errors"
	"pawmart/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the development chat backend: the transport and history
// contracts over echo, backed by the in-memory Hub.
type Server struct {
	hub    *Hub
	tokens *TokenService
	echo   *echo.Echo
}

func NewServer(jwtSecret string) *Server {
	s := &Server{
		hub:    NewHub(),
		tokens: NewTokenService(jwtSecret, 24*time.Hour),
		echo:   echo.New(),
	}
	s.echo.HideBanner = true
	s.echo.Use(middleware.Recover())

	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/v1/dev/token", s.handleMintToken)
	s.echo.GET("/v1/conversations/:id/messages", s.handleHistory)
	s.echo.GET("/ws", s.handleWebSocket)
	return s
}

// Handler exposes the HTTP surface, for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(port string) error {
	return s.echo.Start(":" + port)
}

func (s *Server) handleHealth(c echo.Context) error {
	return response.Success(c, map[string]string{"status": "ok"})
}

type mintTokenRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleMintToken(c echo.Context) error {
	var req mintTokenRequest
	if err := c.Bind(&req); err != nil || req.UserID == "" {
		return response.Error(c, errors.BadRequest("user_id is required", err))
	}
	token, err := s.tokens.Mint(req.UserID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, map[string]string{"token": token})
}

func (s *Server) handleHistory(c echo.Context) error {
	if _, err := s.authenticate(c); err != nil {
		return response.Error(c, err)
	}
	conversationID := c.Param("id")
	return response.Success(c, map[string]interface{}{
		"messages": s.hub.History(conversationID),
	})
}

func (s *Server) handleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return c.NoContent(http.StatusUnauthorized)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		rooms:  make(map[string]bool),
	}
	go s.hub.ServeClient(client)
	return nil
}

func (s *Server) authenticate(c echo.Context) (string, error) {
	header := c.Request().Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		return "", errors.Auth("missing bearer token", nil)
	}
	return s.tokens.Verify(token)
}

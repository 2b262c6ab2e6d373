// Package server is a reference relay for the collaboration protocol. It
// orders operations by arrival, applies them to the canonical text, acks the
// sender and broadcasts to everybody else in the session. It does not
// transform concurrent operations.
package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/ssau-fiit/cloudocs-sync/database"
	"net/http"
	"sync"
	"time"
)

const DefaultHeartbeat = 30 * time.Second

type Server struct {
	store     database.Store
	engine    *gin.Engine
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	log       zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

type Option func(*Server)

// WithHeartbeat sets the interval of heartbeat frames sent to every peer.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func New(store database.Store, opts ...Option) *Server {
	s := &Server{
		store:     store,
		heartbeat: DefaultHeartbeat,
		log:       log.Logger,
		rooms:     make(map[string]*room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "relay").Logger()

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
	}))

	v1 := r.Group("/api/v1")
	v1.GET("/documents", s.handleGetDocuments)
	v1.POST("/documents/create", s.handleCreateDocument)
	v1.GET("/documents/:id", s.handleSocket)
	v1.GET("/documents/:id/text", s.handleGetText)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Run(addr string) error {
	s.log.Info().Str("addr", addr).Msg("relay listening")
	return s.engine.Run(addr)
}

func (s *Server) room(id string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		r = newRoom(id, s.store, s.log)
		s.rooms[id] = r
	}
	return r
}

func (s *Server) loadedRoom(id string) (*room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	return r, ok
}

func (s *Server) dropRoom(id string) {
	s.mu.Lock()
	r, ok := s.rooms[id]
	delete(s.rooms, id)
	s.mu.Unlock()

	if ok {
		r.closeAll()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

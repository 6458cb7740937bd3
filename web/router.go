package web

import (
	"fmt"
	"log"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/mewl/minipub/activitypub"
	"github.com/mewl/minipub/db"
	"github.com/mewl/minipub/util"
	"golang.org/x/time/rate"
)

// Server holds the handlers' dependencies. Everything is injected;
// there is no package-level state.
type Server struct {
	conf         *util.AppConfig
	database     *db.DB
	dispatcher   *activitypub.Dispatcher
	publicKeyPem string
}

func NewServer(conf *util.AppConfig, database *db.DB, dispatcher *activitypub.Dispatcher, publicKeyPem string) *Server {
	return &Server{
		conf:         conf,
		database:     database,
		dispatcher:   dispatcher,
		publicKeyPem: publicKeyPem,
	}
}

func (s *Server) origin() string {
	return s.conf.Origin()
}

// Router builds the gin engine with all routes attached. Separated
// from Run so tests can drive it with httptest.
func (s *Server) Router() *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// RSS feed
	g.GET("/feed", s.handleFeed)
	g.GET("/feed/:id", s.handleFeedItem)

	// Stricter rate limit for federation endpoints: 5 req/sec per IP,
	// activity bodies capped at 1MB
	apLimiter := NewRateLimiter(rate.Limit(5), 10)
	inboxChain := []gin.HandlerFunc{
		RateLimitMiddleware(apLimiter),
		MaxBytesMiddleware(1 * 1024 * 1024),
		RequireActivityJSON(),
	}

	g.GET("/users/:id", s.handleActor)
	g.GET("/users/:id/inbox", s.handleInboxCollection)
	g.POST("/users/:id/inbox", append(inboxChain, s.handleInbox)...)
	g.GET("/users/:id/outbox", s.handleOutbox)
	g.GET("/users/:id/followers", s.handleFollowers)
	g.GET("/users/:id/following", s.handleFollowing)
	g.POST("/inbox", append(inboxChain, s.handleSharedInbox)...)

	g.GET("/notes/:id", s.handleNote)

	g.GET("/.well-known/webfinger", s.handleWebfinger)
	g.GET("/.well-known/host-meta", s.handleHostMeta)
	g.GET("/.well-known/nodeinfo", s.handleNodeInfoDiscovery)
	g.GET("/nodeinfo/2.1", s.handleNodeInfo)

	// token-guarded admin API
	api := g.Group("/api", TokenAuthMiddleware(s.conf.Conf.ApiToken))
	api.POST("/accounts", s.handleCreateAccount)
	api.POST("/notes", s.handleCreateNote)

	return g
}

func (s *Server) Run() error {
	log.Printf("Starting HTTP server on %s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	return s.Router().Run(fmt.Sprintf(":%d", s.conf.Conf.HttpPort))
}

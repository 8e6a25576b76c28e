// Package admin implements the operations HTTP surface: a small Gin
// router exposing liveness, a stats dashboard, and session-gated
// snapshot/debug actions — none of which has a natural home inside the
// binary wire protocol itself, so it lives here instead.
package admin

import (
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/photondb/photondb/internal/keyspace"
	"github.com/photondb/photondb/internal/pool"
	"github.com/photondb/photondb/internal/reactor"
	"github.com/photondb/photondb/pkg/errchain"
)

// Creds is the single shared admin login: one username/password pair, no
// user table.
type Creds struct {
	Username string
	Password string
}

// Deps collects the running components GET /stats and the
// /admin/save,/admin/load handlers read from; Server holds one reference
// to each rather than threading them through every handler signature.
type Deps struct {
	Store    *keyspace.Store
	Reactor  *reactor.Server
	Pool     *pool.Pool
	Snapshot interface {
		Save() error
		Load() error
	}
}

// Server wraps the Gin engine plus the wiring it needs to answer
// requests. Call Handler to get an http.Handler for http.Server.
type Server struct {
	log   *zap.Logger
	deps  Deps
	creds Creds
	isDev bool
	r     *gin.Engine
}

// New builds the admin router. sessionSecret seeds the cookie store;
// creds is the single admin login gating /admin/save, /admin/load and
// /debug/dump. devCORS enables the permissive CORS policy meant for local
// frontend development, not production.
func New(log *zap.Logger, deps Deps, creds Creds, sessionSecret []byte, devCORS bool) *Server {
	log = log.Named("admin")
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	_ = r.SetTrustedProxies([]string{"127.0.0.1"})

	r.Use(gin.Recovery())
	r.Use(requestID())

	if devCORS {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:5173"},
			AllowMethods:     []string{"GET", "POST"},
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			ExposeHeaders:    []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(secure.New(secure.Config{
		SSLRedirect:        false,
		STSSeconds:         315360000,
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	}))

	store := cookie.NewStore(sessionSecret)
	r.Use(sessions.Sessions("photondb_admin", store))

	r.Use(zapLogger(log))

	s := &Server{log: log, deps: deps, creds: creds, isDev: devCORS, r: r}

	r.GET("/healthz", s.healthz)
	r.GET("/stats", s.stats)
	r.POST("/admin/login", s.login)
	r.POST("/admin/logout", s.logout)

	protected := r.Group("/", s.requireSession)
	protected.POST("/admin/save", s.save)
	protected.POST("/admin/load", s.load)
	protected.GET("/debug/dump", s.debugDump)

	return s
}

// Handler returns the router as an http.Handler, for http.Server.Handler.
func (s *Server) Handler() http.Handler { return s.r }

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) stats(c *gin.Context) {
	newerSize, newerCap, olderSize, olderCap, migratePos := s.deps.Store.HashStats()

	zsetCount := 0
	s.deps.Store.ForEach(func(e *keyspace.Entry) bool {
		if e.Kind() == keyspace.KindZSet {
			zsetCount++
		}
		return true
	})

	c.JSON(http.StatusOK, gin.H{
		"keys":        s.deps.Store.Len(),
		"zsets":       zsetCount,
		"connections": s.deps.Reactor.ConnCount(),
		"idle_list":   s.deps.Reactor.IdleListLen(),
		"pool_queue":  s.deps.Pool.QueueLen(),
		"keyspace_table": gin.H{
			"newer_size": newerSize,
			"newer_cap":  newerCap,
			"older_size": olderSize,
			"older_cap":  olderCap,
			"migrating":  olderCap > 0,
			"migrate_pos": migratePos,
		},
	})
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if req.Username != s.creds.Username || req.Password != s.creds.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid credentials"})
		return
	}

	sess := sessions.Default(c)
	sess.Set("uid", req.Username)
	sess.Options(sessions.Options{
		Path:     "/",
		MaxAge:   4 * 3600,
		Secure:   !s.isDev,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	if err := sess.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) logout(c *gin.Context) {
	sess := sessions.Default(c)
	sess.Clear()
	sess.Options(sessions.Options{Path: "/", MaxAge: -1})
	_ = sess.Save()
	c.Status(http.StatusNoContent)
}

func (s *Server) requireSession(c *gin.Context) {
	sess := sessions.Default(c)
	uid, _ := sess.Get("uid").(string)
	if uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "login required"})
		return
	}
	c.Next()
}

func (s *Server) save(c *gin.Context) {
	if err := s.deps.Snapshot.Save(); err != nil {
		errchain.Log(s.log, "admin save failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error(), "chain": errchain.Format(err)})
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) load(c *gin.Context) {
	if err := s.deps.Snapshot.Load(); err != nil {
		errchain.Log(s.log, "admin load failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error(), "chain": errchain.Format(err)})
		return
	}
	c.Status(http.StatusOK)
}

// dumpSampleLimit bounds how many entries /debug/dump renders, so an
// operator hitting this on a large keyspace doesn't generate a
// multi-gigabyte response.
const dumpSampleLimit = 200

func (s *Server) debugDump(c *gin.Context) {
	type sample struct {
		Key  string
		Kind string
	}
	var out []sample
	s.deps.Store.ForEach(func(e *keyspace.Entry) bool {
		kind := "STRING"
		if e.Kind() == keyspace.KindZSet {
			kind = "ZSET"
		}
		out = append(out, sample{Key: e.Key(), Kind: kind})
		return len(out) < dumpSampleLimit
	})
	c.String(http.StatusOK, spew.Sdump(out))
}

const requestIDHeader = "X-Request-Id"

// requestID honors an inbound header if present and well-formed,
// otherwise mints a UUID.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if l := len(id); l < 1 || l > 64 {
			id = uuid.New().String()
		}
		c.Header(requestIDHeader, id)
		c.Set("request_id", id)
		c.Next()
	}
}

// zapLogger logs each request's method, route, status, latency, and
// client IP once the handler chain completes.
func zapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

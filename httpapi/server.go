// Package httpapi exposes the engine over HTTP. Public endpoints carry
// sessions via an SID cookie or an Authorization bearer token;
// administrative endpoints authenticate service callers with an
// access/secret key pair instead.
package httpapi

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/atonlab/iam"
	"github.com/atonlab/iam/captcha"
)

// SIDCookie is the cookie carrying the session id for browser clients.
const SIDCookie = "sid"

// Config holds transport-level settings.
type Config struct {
	// Keys authenticates service-to-service callers on /admin routes.
	Keys iam.KeysConfig
	// CookieMaxAge : 0 makes the SID cookie a session cookie.
	CookieMaxAge int
	// CookieSecure marks the SID cookie Secure.
	CookieSecure bool
	// Registry, when set, mounts prometheus metrics on /metrics.
	Registry *prometheus.Registry
	// Captcha, when set, mounts the verification-code endpoints that mint
	// the tickets consumed by phone and email flows.
	Captcha *captcha.Provider
}

// Server wires the engine's operations into a gin router.
type Server struct {
	engine *iam.Engine
	cfg    Config
	logger *logrus.Logger
}

// NewServer returns a Server. logger must not be nil shy of tests; pass
// logrus.StandardLogger() when in doubt.
func NewServer(engine *iam.Engine, cfg Config, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{engine: engine, cfg: cfg, logger: logger}
}

// Router builds the route tree.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		signUp := api.Group("/signUp")
		signUp.POST("/username", s.signUpWithUsername)
		signUp.POST("/emailAddress", s.signUpWithEmail)
		signUp.POST("/phoneNumber", s.signUpWithPhoneNumber)

		signIn := api.Group("/signIn")
		signIn.POST("/username", s.signInWithUsername)
		signIn.POST("/emailAddress", s.signInWithEmail)
		signIn.POST("/phoneNumber", s.signInWithPhoneNumberAndPassword)
		signIn.POST("/phoneNumber/ticket", s.signInWithPhoneNumberAndTicket)

		api.GET("/session", s.requireSession, s.getSession)
		api.POST("/signOut", s.requireSession, s.signOut)
		api.POST("/signOutAll", s.requireSession, s.signOutAll)

		bind := api.Group("/bind", s.requireSession)
		bind.POST("/phoneNumber", s.bindPhoneNumber)
		bind.POST("/emailAddress", s.bindEmail)

		pw := api.Group("/password")
		pw.POST("/change", s.requireSession, s.changePassword)
		pw.POST("/resetByEmail", s.resetPasswordByEmail)
		pw.POST("/resetByPhone", s.resetPasswordByPhoneNumber)

		if s.cfg.Captcha != nil {
			verify := api.Group("/verification")
			verify.POST("/emailAddress/send", s.sendEmailCode)
			verify.POST("/emailAddress/verify", s.verifyEmailCode)
			verify.POST("/phoneNumber/send", s.sendSMSCode)
			verify.POST("/phoneNumber/verify", s.verifySMSCode)
		}
	}

	// Administrative surface: each endpoint names the permission a session
	// caller must hold; service-key callers pass every guard.
	admin := r.Group("/admin")
	{
		admin.POST("/users", s.requireAdmin(iam.PermCreateUser), s.createUser)
		admin.GET("/users", s.requireAdmin(iam.PermGetUsers), s.listUsers)
		admin.GET("/users/:id", s.requireAdmin(iam.PermGetUsers), s.getUser)
		admin.PUT("/users/:id/permissions", s.requireAdmin(iam.PermUpdateUsers), s.updateUserPermissions)
		admin.PUT("/users/:id/roles", s.requireAdmin(iam.PermUpdateUsers), s.updateUserRoles)
		admin.POST("/users/:id/block", s.requireAdmin(iam.PermBlockUsers), s.blockUser)
		admin.POST("/users/:id/unblock", s.requireAdmin(iam.PermBlockUsers), s.unblockUser)
		admin.DELETE("/users/:id/sessions", s.requireAdmin(iam.PermBlockUsers), s.revokeUserSessions)

		perms := admin.Group("/permissions", s.requireAdmin(iam.PermManagePermissions))
		perms.POST("", s.createPermission)
		perms.GET("", s.listPermissions)
		perms.GET("/:name", s.getPermission)
		perms.PUT("/:name", s.updatePermission)
		perms.DELETE("/:name", s.deletePermission)

		roles := admin.Group("/roles", s.requireAdmin(iam.PermManageRoles))
		roles.POST("", s.createRole)
		roles.GET("", s.listRoles)
		roles.GET("/:name", s.getRole)
		roles.PUT("/:name", s.updateRole)
		roles.DELETE("/:name", s.deleteRole)

		// Raw session-store access exposes authorization snapshots, so it
		// sits behind the sensitive-access grant.
		sessions := admin.Group("/sessions", s.requireAdmin(iam.PermSensitiveAccess))
		sessions.PUT("/objects/:key", s.putSessionObject)
		sessions.GET("/objects/:key", s.getSessionObject)
		sessions.DELETE("/objects/:key", s.deleteSessionObject)
		sessions.POST("/sids", s.createSessionSID)
		sessions.GET("/sids/:sid", s.getSessionObjectBySID)
		sessions.DELETE("/sids/:sid", s.deleteSessionSID)
	}

	if s.cfg.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{})))
	}

	return r
}

// abortWithError translates an engine failure into a response. Internal
// reasons stay in the server log; callers only see the kind-generic
// message.
func (s *Server) abortWithError(c *gin.Context, err error) {
	if e, ok := iam.AsError(err); ok {
		s.logger.WithError(err).WithField("path", c.FullPath()).Debug("request rejected")
		c.AbortWithStatusJSON(statusOf(e.Kind), gin.H{"error": e.Message()})
		return
	}
	s.logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	c.AbortWithStatusJSON(500, gin.H{"error": "internal error"})
}

func statusOf(kind iam.Kind) int {
	switch kind {
	case iam.KindUnauthorized:
		return 401
	case iam.KindNotFound:
		return 404
	case iam.KindConflict:
		return 409
	default:
		return 500
	}
}

var errBadRequest = errors.New("bad request")

// bind decodes the JSON body, answering 400 on malformed input.
func (s *Server) bind(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.AbortWithStatusJSON(400, gin.H{"error": errBadRequest.Error()})
		return false
	}
	return true
}

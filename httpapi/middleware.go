package httpapi

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/atonlab/iam"
)

const (
	ctxSID   = "iam.sid"
	ctxState = "iam.state"
)

// resolveSession extracts the caller's session from the SID cookie or the
// Authorization bearer token.
func (s *Server) resolveSession(c *gin.Context) (string, *iam.UserState, error) {
	if sid, err := c.Cookie(SIDCookie); err == nil && sid != "" {
		state, err := s.engine.GetSessionBySID(c.Request.Context(), sid)
		return sid, state, err
	}
	if bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return s.engine.GetSessionByToken(c.Request.Context(), bearer)
	}
	return "", nil, &iam.Error{Kind: iam.KindUnauthorized, Reason: "no session credential presented"}
}

// requireSession guards the self-service endpoints: any valid session will
// do.
func (s *Server) requireSession(c *gin.Context) {
	sid, state, err := s.resolveSession(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Set(ctxSID, sid)
	c.Set(ctxState, state)
	c.Next()
}

func sessionOf(c *gin.Context) (string, *iam.UserState) {
	sid := c.GetString(ctxSID)
	state, _ := c.MustGet(ctxState).(*iam.UserState)
	return sid, state
}

// serviceKeysValid compares the presented key pair against the configured
// one in constant time. Unconfigured keys never validate.
func (s *Server) serviceKeysValid(c *gin.Context) bool {
	if s.cfg.Keys.AccessKey == "" || s.cfg.Keys.SecretKey == "" {
		return false
	}
	access := subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Access-Key")), []byte(s.cfg.Keys.AccessKey))
	secret := subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Secret-Key")), []byte(s.cfg.Keys.SecretKey))
	return access&secret == 1
}

// requireAdmin guards an administrative endpoint. Two kinds of caller pass:
// a service presenting the access/secret key pair, which is trusted for
// every operation, and a session caller whose session object carries perm.
func (s *Server) requireAdmin(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Access-Key") != "" || c.GetHeader("X-Secret-Key") != "" {
			if !s.serviceKeysValid(c) {
				s.abortWithError(c, &iam.Error{Kind: iam.KindUnauthorized, Reason: "invalid service keys"})
				return
			}
			c.Next()
			return
		}

		sid, state, err := s.resolveSession(c)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		if !state.HasPermission(perm) {
			s.abortWithError(c, &iam.Error{Kind: iam.KindUnauthorized, Reason: "missing permission " + perm})
			return
		}
		c.Set(ctxSID, sid)
		c.Set(ctxState, state)
		c.Next()
	}
}

// setSessionCookie installs the SID cookie after a successful sign-in.
func (s *Server) setSessionCookie(c *gin.Context, sid string) {
	c.SetCookie(SIDCookie, sid, s.cfg.CookieMaxAge, "/", "", s.cfg.CookieSecure, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	c.SetCookie(SIDCookie, "", -1, "/", "", s.cfg.CookieSecure, true)
}

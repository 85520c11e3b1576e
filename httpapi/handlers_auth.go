package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atonlab/iam"
)

type usernameCredentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type emailCredentials struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type phoneCredentials struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Password    string `json:"password" binding:"required"`
}

type phoneTicketRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Ticket      string `json:"ticket" binding:"required"`
	Password    string `json:"password"`
}

func (s *Server) signUpWithUsername(c *gin.Context) {
	var req usernameCredentials
	if !s.bind(c, &req) {
		return
	}
	user, err := s.engine.SignUpWithUsername(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) signUpWithEmail(c *gin.Context) {
	var req emailCredentials
	if !s.bind(c, &req) {
		return
	}
	user, err := s.engine.SignUpWithEmail(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) signUpWithPhoneNumber(c *gin.Context) {
	var req phoneTicketRequest
	if !s.bind(c, &req) {
		return
	}
	user, err := s.engine.SignUpWithPhoneNumber(c.Request.Context(), req.PhoneNumber, req.Ticket, req.Password)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) respondSignedIn(c *gin.Context, res *iam.SignInResult, err error) {
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	s.setSessionCookie(c, res.SID)
	c.JSON(http.StatusOK, res)
}

func (s *Server) signInWithUsername(c *gin.Context) {
	var req usernameCredentials
	if !s.bind(c, &req) {
		return
	}
	res, err := s.engine.SignInWithUsername(c.Request.Context(), req.Username, req.Password)
	s.respondSignedIn(c, res, err)
}

func (s *Server) signInWithEmail(c *gin.Context) {
	var req emailCredentials
	if !s.bind(c, &req) {
		return
	}
	res, err := s.engine.SignInWithEmail(c.Request.Context(), req.Email, req.Password)
	s.respondSignedIn(c, res, err)
}

func (s *Server) signInWithPhoneNumberAndPassword(c *gin.Context) {
	var req phoneCredentials
	if !s.bind(c, &req) {
		return
	}
	res, err := s.engine.SignInWithPhoneNumberAndPassword(c.Request.Context(), req.PhoneNumber, req.Password)
	s.respondSignedIn(c, res, err)
}

func (s *Server) signInWithPhoneNumberAndTicket(c *gin.Context) {
	var req phoneTicketRequest
	if !s.bind(c, &req) {
		return
	}
	res, err := s.engine.SignInWithPhoneNumberAndTicket(c.Request.Context(), req.PhoneNumber, req.Ticket)
	s.respondSignedIn(c, res, err)
}

func (s *Server) getSession(c *gin.Context) {
	_, state := sessionOf(c)
	c.JSON(http.StatusOK, state)
}

func (s *Server) signOut(c *gin.Context) {
	sid, _ := sessionOf(c)
	if err := s.engine.SignOut(c.Request.Context(), sid); err != nil {
		s.abortWithError(c, err)
		return
	}
	s.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) signOutAll(c *gin.Context) {
	_, state := sessionOf(c)
	if err := s.engine.SignOutAll(c.Request.Context(), state.ID); err != nil {
		s.abortWithError(c, err)
		return
	}
	s.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

type bindPhoneRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Ticket      string `json:"ticket" binding:"required"`
}

func (s *Server) bindPhoneNumber(c *gin.Context) {
	var req bindPhoneRequest
	if !s.bind(c, &req) {
		return
	}
	_, state := sessionOf(c)
	if err := s.engine.BindPhoneNumber(c.Request.Context(), state.ID, req.PhoneNumber, req.Ticket); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type bindEmailRequest struct {
	Email  string `json:"email" binding:"required"`
	Ticket string `json:"ticket" binding:"required"`
}

func (s *Server) bindEmail(c *gin.Context) {
	var req bindEmailRequest
	if !s.bind(c, &req) {
		return
	}
	_, state := sessionOf(c)
	if err := s.engine.BindEmail(c.Request.Context(), state.ID, req.Email, req.Ticket); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

func (s *Server) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if !s.bind(c, &req) {
		return
	}
	_, state := sessionOf(c)
	if err := s.engine.ChangePassword(c.Request.Context(), state.ID, req.OldPassword, req.NewPassword); err != nil {
		s.abortWithError(c, err)
		return
	}
	s.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

type resetByEmailRequest struct {
	Email       string `json:"email" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
	Ticket      string `json:"ticket" binding:"required"`
}

func (s *Server) resetPasswordByEmail(c *gin.Context) {
	var req resetByEmailRequest
	if !s.bind(c, &req) {
		return
	}
	if err := s.engine.ResetPasswordByEmail(c.Request.Context(), req.Email, req.NewPassword, req.Ticket); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type resetByPhoneRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
	Ticket      string `json:"ticket" binding:"required"`
}

func (s *Server) resetPasswordByPhoneNumber(c *gin.Context) {
	var req resetByPhoneRequest
	if !s.bind(c, &req) {
		return
	}
	if err := s.engine.ResetPasswordByPhoneNumber(c.Request.Context(), req.PhoneNumber, req.NewPassword, req.Ticket); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

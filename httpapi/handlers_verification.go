package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atonlab/iam/captcha"
)

type sendEmailCodeRequest struct {
	Email string `json:"email" binding:"required"`
}

func (s *Server) sendEmailCode(c *gin.Context) {
	var req sendEmailCodeRequest
	if !s.bind(c, &req) {
		return
	}
	if err := s.cfg.Captcha.SendEmailCode(c.Request.Context(), req.Email); err != nil {
		s.abortWithCaptchaError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sendSMSCodeRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
}

func (s *Server) sendSMSCode(c *gin.Context) {
	var req sendSMSCodeRequest
	if !s.bind(c, &req) {
		return
	}
	if err := s.cfg.Captcha.SendSMSCode(c.Request.Context(), req.PhoneNumber); err != nil {
		s.abortWithCaptchaError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type verifyEmailCodeRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

func (s *Server) verifyEmailCode(c *gin.Context) {
	var req verifyEmailCodeRequest
	if !s.bind(c, &req) {
		return
	}
	ticket, err := s.cfg.Captcha.VerifyEmailCode(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		s.abortWithCaptchaError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

type verifySMSCodeRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Code        string `json:"code" binding:"required"`
}

func (s *Server) verifySMSCode(c *gin.Context) {
	var req verifySMSCodeRequest
	if !s.bind(c, &req) {
		return
	}
	ticket, err := s.cfg.Captcha.VerifySMSCode(c.Request.Context(), req.PhoneNumber, req.Code)
	if err != nil {
		s.abortWithCaptchaError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

// abortWithCaptchaError hides which half of a code check failed; a wrong
// code and an expired code answer alike.
func (s *Server) abortWithCaptchaError(c *gin.Context, err error) {
	if errors.Is(err, captcha.ErrInvalidCode) || errors.Is(err, captcha.ErrInvalidTicket) {
		s.logger.WithError(err).Debug("verification rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	s.abortWithError(c, err)
}

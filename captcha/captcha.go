// Package captcha issues out-of-band verification codes over email and SMS
// and exchanges a correct code for a one-time ticket scoped to its
// channel-qualified subject ("email:<address>" or "sms:<number>"). Tickets
// are the proof the auth engine consumes for phone sign-up/sign-in, binding,
// and password resets.
package captcha

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidCode is returned when a code is absent, expired, or wrong.
	ErrInvalidCode = errors.New("invalid captcha code")
	// ErrInvalidTicket is returned when a ticket is absent, expired,
	// already consumed, or scoped to a different subject.
	ErrInvalidTicket = errors.New("invalid ticket")
	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Format selects the alphabet codes are generated from.
type Format string

const (
	// FormatNumberOnly generates digit-only codes.
	FormatNumberOnly Format = "number-only"
	// FormatUppercaseLetterNumber generates codes from uppercase letters
	// and digits.
	FormatUppercaseLetterNumber Format = "uppercase-letter-number"
)

const (
	digits           = "0123456789"
	upperAndDigits   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	defaultCodeLen   = 6
	defaultTicketLen = 24
)

// SendFunc delivers a code to a subject. The delivery channel itself is out
// of scope here; nil senders leave codes retrievable only through logs.
type SendFunc func(ctx context.Context, subject, code string) error

// Config controls code and ticket generation.
type Config struct {
	CodeLength      int
	CodeFormat      Format
	CodeExpiresIn   time.Duration
	TicketLength    int
	TicketExpiresIn time.Duration

	SendEmailCode SendFunc
	SendSMSCode   SendFunc
}

// Provider stores codes and tickets in Redis under independent TTLs and
// implements the engine's TicketValidator contract.
type Provider struct {
	redis  redis.UniversalClient
	prefix string
	cfg    Config
	logger *logrus.Logger
}

// NewProvider returns a Provider namespaced under prefix. A nil logger
// falls back to the logrus standard logger.
func NewProvider(client redis.UniversalClient, prefix string, cfg Config, logger *logrus.Logger) *Provider {
	if prefix == "" {
		prefix = "iam"
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = defaultCodeLen
	}
	if cfg.TicketLength <= 0 {
		cfg.TicketLength = defaultTicketLen
	}
	if cfg.CodeExpiresIn <= 0 {
		cfg.CodeExpiresIn = 5 * time.Minute
	}
	if cfg.TicketExpiresIn <= 0 {
		cfg.TicketExpiresIn = 10 * time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Provider{redis: client, prefix: prefix, cfg: cfg, logger: logger}
}

func (p *Provider) codeKey(subject string) string {
	return p.prefix + ":code:" + subject
}

func (p *Provider) ticketKey(ticket string) string {
	return p.prefix + ":ticket:" + ticket
}

// SendEmailCode generates a code for the address and hands it to the
// configured sender. Re-sending overwrites the previous code.
func (p *Provider) SendEmailCode(ctx context.Context, email string) error {
	return p.sendCode(ctx, "email:"+email, p.cfg.SendEmailCode)
}

// SendSMSCode generates a code for the phone number and hands it to the
// configured sender. Re-sending overwrites the previous code.
func (p *Provider) SendSMSCode(ctx context.Context, phoneNumber string) error {
	return p.sendCode(ctx, "sms:"+phoneNumber, p.cfg.SendSMSCode)
}

func (p *Provider) sendCode(ctx context.Context, subject string, send SendFunc) error {
	code, err := p.newCode()
	if err != nil {
		return err
	}

	if err := p.redis.Set(ctx, p.codeKey(subject), code, p.cfg.CodeExpiresIn).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if send == nil {
		p.logger.WithField("subject", subject).Debug("captcha: no sender configured, code stored only")
		return nil
	}
	return send(ctx, subject, code)
}

// VerifyEmailCode burns the pending code for the address and, when it
// matches, issues a one-time ticket scoped to "email:<address>".
func (p *Provider) VerifyEmailCode(ctx context.Context, email, code string) (string, error) {
	return p.verifyCode(ctx, "email:"+email, code)
}

// VerifySMSCode burns the pending code for the number and, when it matches,
// issues a one-time ticket scoped to "sms:<number>".
func (p *Provider) VerifySMSCode(ctx context.Context, phoneNumber, code string) (string, error) {
	return p.verifyCode(ctx, "sms:"+phoneNumber, code)
}

func (p *Provider) verifyCode(ctx context.Context, subject, code string) (string, error) {
	stored, err := p.redis.GetDel(ctx, p.codeKey(subject)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrInvalidCode
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// A wrong guess still burns the code; the caller must request a new one.
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return "", ErrInvalidCode
	}

	ticket, err := gonanoid.New(p.cfg.TicketLength)
	if err != nil {
		return "", err
	}
	if err := p.redis.Set(ctx, p.ticketKey(ticket), subject, p.cfg.TicketExpiresIn).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ticket, nil
}

// Consume validates a ticket against the subject it was issued for and
// deletes it. A ticket is good for exactly one Consume call, successful or
// not; a subject mismatch also burns it.
func (p *Provider) Consume(ctx context.Context, ticket, subject string) error {
	if ticket == "" {
		return ErrInvalidTicket
	}

	stored, err := p.redis.GetDel(ctx, p.ticketKey(ticket)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrInvalidTicket
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(subject)) != 1 {
		return ErrInvalidTicket
	}
	return nil
}

// IssueTicket mints a ticket for subject without a code exchange. Intended
// for trusted server-side flows and tests.
func (p *Provider) IssueTicket(ctx context.Context, subject string) (string, error) {
	ticket, err := gonanoid.New(p.cfg.TicketLength)
	if err != nil {
		return "", err
	}
	if err := p.redis.Set(ctx, p.ticketKey(ticket), subject, p.cfg.TicketExpiresIn).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ticket, nil
}

func (p *Provider) newCode() (string, error) {
	alphabet := digits
	if p.cfg.CodeFormat == FormatUppercaseLetterNumber {
		alphabet = upperAndDigits
	}
	return gonanoid.Generate(alphabet, p.cfg.CodeLength)
}

package iam

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/atonlab/iam/password"
	"github.com/atonlab/iam/session"
	"github.com/atonlab/iam/token"
)

// Engine is the auth orchestrator. It composes the credential stores, the
// session store, the bearer-token codec, and the verification-ticket
// validator into the sign-up/sign-in/session flows, and owns the session
// lifecycle state machine. All collaborators are injected at construction;
// Engine methods are safe for concurrent use once New returns.
type Engine struct {
	cfg      Config
	users    UserStore
	perms    PermissionStore
	roles    RoleStore
	sessions *session.Store
	tickets  TicketValidator
	codec    *token.Codec
	hasher   *password.Hasher
	listener EventListener
	logger   *logrus.Logger
	metrics  *Metrics
	audit    *auditDispatcher
}

// New validates cfg and wires an Engine. stores.Users and sessions are
// required; stores.Permissions and stores.Roles may be nil when RBAC
// administration is hosted elsewhere, and tickets may be nil when no
// out-of-band verification channel exists (ticket-based operations then
// fail unauthorized).
func New(cfg Config, stores Stores, sessions *session.Store, tickets TicketValidator) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if stores.Users == nil {
		return nil, errors.New("iam: user store is required")
	}
	if sessions == nil {
		return nil, errors.New("iam: session store is required")
	}

	pwCfg := cfg.Password
	if pwCfg == (password.Config{}) {
		pwCfg = password.DefaultConfig()
	}
	hasher, err := password.NewHasher(pwCfg)
	if err != nil {
		return nil, err
	}

	listener := cfg.Listener
	if listener == nil {
		listener = NoopListener{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Engine{
		cfg:      cfg,
		users:    stores.Users,
		perms:    stores.Permissions,
		roles:    stores.Roles,
		sessions: sessions,
		tickets:  tickets,
		codec:    token.NewCodec(cfg.Session.Token.Secret),
		hasher:   hasher,
		listener: listener,
		logger:   logger,
		audit:    newAuditDispatcher(cfg.Audit),
	}, nil
}

// SetMetrics attaches prometheus counters. Call before serving traffic; the
// engine runs without metrics when m is nil.
func (e *Engine) SetMetrics(m *Metrics) {
	e.metrics = m
}

// Close flushes and stops the audit pipeline.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were dropped under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// consumeTicket validates a one-time ticket for a channel-scoped subject.
// Validator failures surface as unauthorized with the validator's message
// kept as the internal reason.
func (e *Engine) consumeTicket(ctx context.Context, ticket, subject string) error {
	if e.tickets == nil {
		return unauthorized("no ticket validator configured")
	}
	if err := e.tickets.Consume(ctx, ticket, subject); err != nil {
		if _, ok := AsError(err); ok {
			return err
		}
		return unauthorized(err.Error())
	}
	return nil
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent, err error) {
	event.Success = err == nil
	if err != nil {
		event.Error = err.Error()
	}
	e.audit.Emit(ctx, event)
}

// notify runs a listener callback after a committed transition. Listener
// failures are logged, never propagated.
func (e *Engine) notify(name string, fn func() error) {
	if err := fn(); err != nil {
		e.logger.WithError(err).WithField("event", name).Warn("iam: event listener failed")
	}
}

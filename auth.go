package iam

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Verification subjects are channel-scoped so a ticket minted for an SMS
// code can never satisfy an email flow, and one phone number's ticket can
// never act for another.
func smsSubject(phoneNumber string) string { return "sms:" + phoneNumber }

func emailSubject(email string) string { return "email:" + email }

// ---------------------------------------------------------------------------
// Sign-up
// ---------------------------------------------------------------------------

// SignUpWithUsername registers a user under a unique username.
func (e *Engine) SignUpWithUsername(ctx context.Context, username, plainPassword string) (*User, error) {
	user, err := e.CreateUser(ctx, CreateUserInput{
		Username: username,
		Password: plainPassword,
	})
	e.metrics.signUp(err)
	e.emitAudit(ctx, AuditEvent{EventType: AuditSignUp, UserID: userIDOf(user)}, err)
	return user, err
}

// SignUpWithEmail registers a user under a unique email address. The
// address starts unverified; BindEmail upgrades it once the owner proves
// control of the mailbox.
func (e *Engine) SignUpWithEmail(ctx context.Context, email, plainPassword string) (*User, error) {
	user, err := e.CreateUser(ctx, CreateUserInput{
		Email:    email,
		Password: plainPassword,
	})
	e.metrics.signUp(err)
	e.emitAudit(ctx, AuditEvent{EventType: AuditSignUp, UserID: userIDOf(user)}, err)
	return user, err
}

// SignUpWithPhoneNumber registers a user under a verified phone number. The
// ticket must have been minted for this exact number, so the number is
// recorded as verified from the start. plainPassword may be empty for
// code-only accounts; such users can only sign in with a fresh ticket.
func (e *Engine) SignUpWithPhoneNumber(ctx context.Context, phoneNumber, ticket, plainPassword string) (*User, error) {
	user, err := e.signUpWithPhoneNumber(ctx, phoneNumber, ticket, plainPassword)
	e.metrics.signUp(err)
	e.emitAudit(ctx, AuditEvent{EventType: AuditSignUp, UserID: userIDOf(user)}, err)
	return user, err
}

func (e *Engine) signUpWithPhoneNumber(ctx context.Context, phoneNumber, ticket, plainPassword string) (*User, error) {
	if err := e.consumeTicket(ctx, ticket, smsSubject(phoneNumber)); err != nil {
		return nil, err
	}
	return e.CreateUser(ctx, CreateUserInput{
		PhoneNumber:         phoneNumber,
		PhoneNumberVerified: true,
		Password:            plainPassword,
	})
}

// ---------------------------------------------------------------------------
// Sign-in
// ---------------------------------------------------------------------------

// SignInWithUsername authenticates a username/password pair and opens a
// session.
func (e *Engine) SignInWithUsername(ctx context.Context, username, plainPassword string) (*SignInResult, error) {
	res, err := e.signInWithPassword(ctx, UserQuery{Username: username}, plainPassword)
	e.metrics.signIn(err)
	e.emitAudit(ctx, AuditEvent{EventType: AuditSignIn, UserID: resultUserID(res)}, err)
	return res, err
}

// SignInWithEmail authenticates an email/password pair and opens a session.
func (e *Engine) SignInWithEmail(ctx context.Context, email, plainPassword string) (*SignInResult, error) {
	res, err := e.signInWithPassword(ctx, UserQuery{Email: email}, plainPassword)
	e.metrics.signIn(err)
	e.emitAudit(ctx, AuditEvent{EventType: AuditSignIn, UserID: resultUserID(res)}, err)
	return res, err
}

// SignInWithPhoneNumberAndPassword authenticates a phone/password pair and
// opens a session.
func (e *Engine) SignInWithPhoneNumberAndPassword(ctx context.Context, phoneNumber, plainPassword string) (*SignInResult, error) {
	res, err := e.signInWithPassword(ctx, UserQuery{PhoneNumber: phoneNumber}, plainPassword)
	e.metrics.signIn(err)
	e.emitAudit(ctx, AuditEvent{EventType: AuditSignIn, UserID: resultUserID(res)}, err)
	return res, err
}

// SignInWithPhoneNumberAndTicket authenticates with a one-time verification
// ticket instead of a password and opens a session.
func (e *Engine) SignInWithPhoneNumberAndTicket(ctx context.Context, phoneNumber, ticket string) (*SignInResult, error) {
	res, err := e.signInWithTicket(ctx, phoneNumber, ticket)
	e.metrics.signIn(err)
	e.emitAudit(ctx, AuditEvent{EventType: AuditSignIn, UserID: resultUserID(res)}, err)
	return res, err
}

func (e *Engine) signInWithPassword(ctx context.Context, query UserQuery, plainPassword string) (*SignInResult, error) {
	user, err := e.users.FindUser(ctx, query)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, unauthorized("invalid credentials")
		}
		return nil, err
	}
	if !e.hasher.Verify(plainPassword, user.Salt, user.PwdHash) {
		return nil, unauthorized("invalid credentials")
	}
	return e.openSession(ctx, user)
}

func (e *Engine) signInWithTicket(ctx context.Context, phoneNumber, ticket string) (*SignInResult, error) {
	if err := e.consumeTicket(ctx, ticket, smsSubject(phoneNumber)); err != nil {
		return nil, err
	}
	user, err := e.users.FindUser(ctx, UserQuery{PhoneNumber: phoneNumber})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, unauthorized("invalid credentials")
		}
		return nil, err
	}
	return e.openSession(ctx, user)
}

// openSession is the single convergence point of every sign-in variant.
// Credentials have already been proven; the blocked flag is checked here so
// a blocked user fails only after presenting valid credentials.
func (e *Engine) openSession(ctx context.Context, user *User) (*SignInResult, error) {
	if user.Blocked {
		return nil, unauthorized("user has been blocked")
	}
	state := user.State()

	if err := e.sessions.SetObject(ctx, state.ID, state, e.cfg.Session.ExpiresIn); err != nil {
		return nil, err
	}
	sid, err := e.sessions.CreateSID(ctx, state.ID, e.cfg.sidTTL())
	if err != nil {
		return nil, err
	}

	e.notify("sign_in", func() error { return e.listener.OnSignIn(ctx, state) })

	return &SignInResult{
		SID:   sid,
		Token: e.codec.Sign(sid),
		User:  *state,
	}, nil
}

// ---------------------------------------------------------------------------
// Session lookup and lifecycle
// ---------------------------------------------------------------------------

// GetSessionBySID dereferences an SID to its live session state. Any miss
// along the chain, whether the SID expired or the session object was
// removed, reads as unauthorized.
func (e *Engine) GetSessionBySID(ctx context.Context, sid string) (*UserState, error) {
	state, err := e.getSessionBySID(ctx, sid)
	e.metrics.sessionGet(err)
	return state, err
}

func (e *Engine) getSessionBySID(ctx context.Context, sid string) (*UserState, error) {
	var state UserState
	if err := e.sessions.GetObjectBySID(ctx, sid, &state); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, unauthorized("invalid sid")
		}
		return nil, err
	}
	e.notify("get_session", func() error { return e.listener.OnGetSession(ctx, &state) })
	return &state, nil
}

// GetSessionByToken verifies a bearer token's envelope and signature, then
// resolves the embedded SID. The caller gets back the SID so transports can
// reuse it for sign-out.
func (e *Engine) GetSessionByToken(ctx context.Context, bearer string) (string, *UserState, error) {
	sid, err := e.codec.Verify(bearer)
	e.metrics.tokenVerified(err)
	if err != nil {
		return "", nil, unauthorized(err.Error())
	}
	state, err := e.GetSessionBySID(ctx, sid)
	if err != nil {
		return "", nil, err
	}
	return sid, state, nil
}

// RefreshSession rebuilds the shared session object from the user store
// when, and only when, the user still has one. Existing SIDs keep their own
// expiries and observe the new state on their next lookup. Refreshing a
// signed-out or expired user is a no-op, not an error.
func (e *Engine) RefreshSession(ctx context.Context, userID string) error {
	err := e.refreshSession(ctx, userID)
	if err == nil {
		e.metrics.sessionRefreshed()
	}
	e.emitAudit(ctx, AuditEvent{EventType: AuditSessionRefresh, UserID: userID}, err)
	return err
}

func (e *Engine) refreshSession(ctx context.Context, userID string) error {
	ok, err := e.sessions.HasObject(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	user, err := e.users.FindUser(ctx, UserQuery{ID: userID})
	if err != nil {
		return err
	}
	if user.Blocked {
		return unauthorized("user has been blocked")
	}
	return e.sessions.SetObject(ctx, userID, user.State(), e.cfg.Session.ExpiresIn)
}

// SignOut revokes a single SID. Sibling sessions of the same user stay
// valid, and revoking an unknown SID succeeds.
func (e *Engine) SignOut(ctx context.Context, sid string) error {
	// The lookup only feeds the OnSignOut hook; a miss (redis.Nil) means an
	// unknown or already-dangling SID and is fine, but a transport failure
	// must fail the operation rather than pass for a miss.
	var state UserState
	lookupErr := e.sessions.GetObjectBySID(ctx, sid, &state)
	if lookupErr != nil && !errors.Is(lookupErr, redis.Nil) {
		e.emitAudit(ctx, AuditEvent{EventType: AuditSignOut, SID: sid}, lookupErr)
		return lookupErr
	}

	err := e.sessions.DeleteSID(ctx, sid)
	if err == nil {
		e.metrics.signedOut()
		if lookupErr == nil {
			e.notify("sign_out", func() error { return e.listener.OnSignOut(ctx, &state) })
		}
	}
	e.emitAudit(ctx, AuditEvent{EventType: AuditSignOut, SID: sid, UserID: state.ID}, err)
	return err
}

// SignOutAll revokes every session of a user at once by deleting the shared
// session object. Outstanding SIDs are left to dangle; they fail the next
// dereference and expire on their own clocks.
func (e *Engine) SignOutAll(ctx context.Context, userID string) error {
	err := e.sessions.DeleteObject(ctx, userID)
	if err == nil {
		e.metrics.signedOutAll()
	}
	e.emitAudit(ctx, AuditEvent{EventType: AuditSignOutAll, UserID: userID}, err)
	return err
}

// ---------------------------------------------------------------------------
// Contact binding
// ---------------------------------------------------------------------------

// BindPhoneNumber attaches a proven phone number to an existing account and
// marks it verified. Live sessions pick up the change through a refresh.
func (e *Engine) BindPhoneNumber(ctx context.Context, userID, phoneNumber, ticket string) error {
	err := e.bindPhoneNumber(ctx, userID, phoneNumber, ticket)
	e.emitAudit(ctx, AuditEvent{EventType: AuditBind, UserID: userID}, err)
	return err
}

func (e *Engine) bindPhoneNumber(ctx context.Context, userID, phoneNumber, ticket string) error {
	if err := e.consumeTicket(ctx, ticket, smsSubject(phoneNumber)); err != nil {
		return err
	}
	verified := true
	_, err := e.users.UpdateUser(ctx, userID, UserUpdate{
		PhoneNumber:         &phoneNumber,
		PhoneNumberVerified: &verified,
	})
	if err != nil {
		return err
	}
	return e.refreshSession(ctx, userID)
}

// BindEmail attaches a proven email address to an existing account and
// marks it verified.
func (e *Engine) BindEmail(ctx context.Context, userID, email, ticket string) error {
	err := e.bindEmail(ctx, userID, email, ticket)
	e.emitAudit(ctx, AuditEvent{EventType: AuditBind, UserID: userID}, err)
	return err
}

func (e *Engine) bindEmail(ctx context.Context, userID, email, ticket string) error {
	if err := e.consumeTicket(ctx, ticket, emailSubject(email)); err != nil {
		return err
	}
	verified := true
	_, err := e.users.UpdateUser(ctx, userID, UserUpdate{
		Email:         &email,
		EmailVerified: &verified,
	})
	if err != nil {
		return err
	}
	return e.refreshSession(ctx, userID)
}

// ---------------------------------------------------------------------------
// Password lifecycle
// ---------------------------------------------------------------------------

// ChangePassword rotates a password after proving knowledge of the current
// one, then force-revokes every session of the user: a credential rotation
// by the owner implies the old sessions should not outlive it.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	err := e.changePassword(ctx, userID, oldPassword, newPassword)
	e.metrics.passwordOp("change", err)
	e.emitAudit(ctx, AuditEvent{EventType: AuditPasswordChange, UserID: userID}, err)
	return err
}

func (e *Engine) changePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := e.users.FindUser(ctx, UserQuery{ID: userID})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return unauthorized("invalid credentials")
		}
		return err
	}
	if !e.hasher.Verify(oldPassword, user.Salt, user.PwdHash) {
		return unauthorized("invalid credentials")
	}
	if err := e.writePassword(ctx, user, newPassword); err != nil {
		return err
	}
	return e.sessions.DeleteObject(ctx, userID)
}

// ResetPasswordByEmail rewrites the password of the account owning email,
// authorized by a ticket minted for that address. Recovery deliberately
// leaves live sessions alone; the owner can SignOutAll afterwards.
func (e *Engine) ResetPasswordByEmail(ctx context.Context, email, newPassword, ticket string) error {
	err := e.resetPassword(ctx, UserQuery{Email: email}, emailSubject(email), newPassword, ticket)
	e.metrics.passwordOp("reset", err)
	e.emitAudit(ctx, AuditEvent{EventType: AuditPasswordReset}, err)
	return err
}

// ResetPasswordByPhoneNumber rewrites the password of the account owning
// phoneNumber, authorized by a ticket minted for that number.
func (e *Engine) ResetPasswordByPhoneNumber(ctx context.Context, phoneNumber, newPassword, ticket string) error {
	err := e.resetPassword(ctx, UserQuery{PhoneNumber: phoneNumber}, smsSubject(phoneNumber), newPassword, ticket)
	e.metrics.passwordOp("reset", err)
	e.emitAudit(ctx, AuditEvent{EventType: AuditPasswordReset}, err)
	return err
}

func (e *Engine) resetPassword(ctx context.Context, query UserQuery, subject, newPassword, ticket string) error {
	if err := e.consumeTicket(ctx, ticket, subject); err != nil {
		return err
	}
	user, err := e.users.FindUser(ctx, query)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return unauthorized("invalid credentials")
		}
		return err
	}
	return e.writePassword(ctx, user, newPassword)
}

// writePassword persists a new password hash, minting a salt for accounts
// that never had one.
func (e *Engine) writePassword(ctx context.Context, user *User, newPassword string) error {
	salt := user.Salt
	if salt == "" {
		var err error
		salt, err = e.hasher.NewSalt()
		if err != nil {
			return err
		}
	}
	hash, err := e.hasher.Hash(newPassword, salt)
	if err != nil {
		return err
	}
	_, err = e.users.UpdateUser(ctx, user.ID, UserUpdate{PwdHash: &hash, Salt: &salt})
	return err
}

func userIDOf(u *User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

func resultUserID(r *SignInResult) string {
	if r == nil {
		return ""
	}
	return r.User.ID
}

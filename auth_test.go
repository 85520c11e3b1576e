package iam_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/atonlab/iam"
	"github.com/atonlab/iam/captcha"
	"github.com/atonlab/iam/internal/memstore"
	"github.com/atonlab/iam/password"
	"github.com/atonlab/iam/session"
)

type testEnv struct {
	engine  *iam.Engine
	store   *memstore.Store
	tickets *captcha.Provider
	redis   *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := memstore.New()
	tickets := captcha.NewProvider(client, "captcha", captcha.Config{}, logrus.New())

	cfg := iam.Config{
		Session: iam.SessionConfig{
			ExpiresIn:    time.Hour,
			SIDExpiresIn: 2 * time.Hour,
			Token:        iam.TokenConfig{Secret: "test-secret"},
		},
		Password: password.Config{
			Memory:      8 * 1024,
			Time:        1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   16,
		},
	}
	engine, err := iam.New(cfg, store.Stores(), session.NewStore(client, "iam"), tickets)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: store, tickets: tickets, redis: mr}
}

func (env *testEnv) ticket(t *testing.T, subject string) string {
	t.Helper()
	ticket, err := env.tickets.IssueTicket(context.Background(), subject)
	if err != nil {
		t.Fatalf("IssueTicket: %v", err)
	}
	return ticket
}

func mustSignUpUsername(t *testing.T, env *testEnv, username, pw string) *iam.User {
	t.Helper()
	user, err := env.engine.SignUpWithUsername(context.Background(), username, pw)
	if err != nil {
		t.Fatalf("SignUpWithUsername(%q): %v", username, err)
	}
	return user
}

func mustSignInUsername(t *testing.T, env *testEnv, username, pw string) *iam.SignInResult {
	t.Helper()
	res, err := env.engine.SignInWithUsername(context.Background(), username, pw)
	if err != nil {
		t.Fatalf("SignInWithUsername(%q): %v", username, err)
	}
	return res
}

func TestSignUpAndSignInWithUsername(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustSignUpUsername(t, env, "alice", "hunter2-hunter2")
	if user.ID == "" {
		t.Fatal("expected user id to be assigned")
	}
	if user.PwdHash != "" || user.Salt != "" {
		t.Fatal("sign-up response must not carry credential material")
	}

	res := mustSignInUsername(t, env, "alice", "hunter2-hunter2")
	if res.SID == "" || res.Token == "" {
		t.Fatalf("incomplete sign-in result: %+v", res)
	}
	if res.User.ID != user.ID {
		t.Fatalf("session user = %q, want %q", res.User.ID, user.ID)
	}

	state, err := env.engine.GetSessionBySID(ctx, res.SID)
	if err != nil {
		t.Fatalf("GetSessionBySID: %v", err)
	}
	if state.ID != user.ID {
		t.Fatalf("sid resolved to %q, want %q", state.ID, user.ID)
	}

	sid, state, err := env.engine.GetSessionByToken(ctx, res.Token)
	if err != nil {
		t.Fatalf("GetSessionByToken: %v", err)
	}
	if sid != res.SID {
		t.Fatalf("token resolved sid %q, want %q", sid, res.SID)
	}
	if state.ID != user.ID {
		t.Fatalf("token resolved user %q, want %q", state.ID, user.ID)
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	mustSignUpUsername(t, env, "alice", "correct-password")

	_, err := env.engine.SignInWithUsername(context.Background(), "alice", "wrong-password")
	if !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
	e, ok := iam.AsError(err)
	if !ok {
		t.Fatalf("expected *iam.Error, got %T", err)
	}
	if e.Message() == e.Reason {
		t.Fatal("caller-facing message must not leak the internal reason")
	}
}

func TestSignInUnknownUserIsUnauthorized(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.SignInWithUsername(context.Background(), "nobody", "whatever-pw")
	if !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
	if errors.Is(err, iam.ErrNotFound) {
		t.Fatal("unknown user must not be distinguishable from a bad password")
	}
}

func TestSignInWithoutPasswordSetFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	phone := "+15550001111"
	ticket := env.ticket(t, "sms:"+phone)
	if _, err := env.engine.SignUpWithPhoneNumber(ctx, phone, ticket, ""); err != nil {
		t.Fatalf("SignUpWithPhoneNumber: %v", err)
	}

	_, err := env.engine.SignInWithPhoneNumberAndPassword(ctx, phone, "")
	if !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("err = %v, want unauthorized for passwordless account", err)
	}
}

func TestBlockedUserFailsAfterCredentialCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustSignUpUsername(t, env, "alice", "hunter2-hunter2")
	res := mustSignInUsername(t, env, "alice", "hunter2-hunter2")

	if err := env.engine.BlockUser(ctx, user.ID); err != nil {
		t.Fatalf("BlockUser: %v", err)
	}

	// Blocking revokes the live session immediately.
	if _, err := env.engine.GetSessionBySID(ctx, res.SID); !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("GetSessionBySID after block = %v, want unauthorized", err)
	}

	// Correct credentials still fail while blocked.
	_, err := env.engine.SignInWithUsername(ctx, "alice", "hunter2-hunter2")
	if !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("sign-in while blocked = %v, want unauthorized", err)
	}

	if err := env.engine.UnblockUser(ctx, user.ID); err != nil {
		t.Fatalf("UnblockUser: %v", err)
	}
	mustSignInUsername(t, env, "alice", "hunter2-hunter2")
}

func TestTamperedTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mustSignUpUsername(t, env, "alice", "hunter2-hunter2")
	res := mustSignInUsername(t, env, "alice", "hunter2-hunter2")

	tampered := []byte(res.Token)
	tampered[len(tampered)/2] ^= 0x01
	if _, _, err := env.engine.GetSessionByToken(ctx, string(tampered)); !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("tampered token = %v, want unauthorized", err)
	}

	if _, _, err := env.engine.GetSessionByToken(ctx, "not-base64!!"); !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("garbage token = %v, want unauthorized", err)
	}
}

func TestSignOutRevokesOneSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mustSignUpUsername(t, env, "alice", "hunter2-hunter2")
	first := mustSignInUsername(t, env, "alice", "hunter2-hunter2")
	second := mustSignInUsername(t, env, "alice", "hunter2-hunter2")

	if err := env.engine.SignOut(ctx, first.SID); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := env.engine.GetSessionBySID(ctx, first.SID); !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("revoked sid = %v, want unauthorized", err)
	}
	if _, err := env.engine.GetSessionBySID(ctx, second.SID); err != nil {
		t.Fatalf("sibling sid should stay valid: %v", err)
	}

	// Revoking an unknown SID is not an error.
	if err := env.engine.SignOut(ctx, "feedfacefeedfacefeedfacefeedface"); err != nil {
		t.Fatalf("SignOut of unknown sid: %v", err)
	}
}

func TestSignOutFailsWhenRedisUnavailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mustSignUpUsername(t, env, "alice", "hunter2-hunter2")
	res := mustSignInUsername(t, env, "alice", "hunter2-hunter2")

	// A store outage must surface as an error, not pass for an unknown SID.
	env.redis.SetError("connection refused")
	if err := env.engine.SignOut(ctx, res.SID); !errors.Is(err, session.ErrRedisUnavailable) {
		t.Fatalf("SignOut with redis down = %v, want ErrRedisUnavailable", err)
	}

	env.redis.SetError("")
	if err := env.engine.SignOut(ctx, res.SID); err != nil {
		t.Fatalf("SignOut after recovery: %v", err)
	}
	if _, err := env.engine.GetSessionBySID(ctx, res.SID); !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("sid after sign-out = %v, want unauthorized", err)
	}
}

func TestSignOutAllRevokesEverySession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustSignUpUsername(t, env, "alice", "hunter2-hunter2")
	first := mustSignInUsername(t, env, "alice", "hunter2-hunter2")
	second := mustSignInUsername(t, env, "alice", "hunter2-hunter2")

	if err := env.engine.SignOutAll(ctx, user.ID); err != nil {
		t.Fatalf("SignOutAll: %v", err)
	}
	for _, sid := range []string{first.SID, second.SID} {
		if _, err := env.engine.GetSessionBySID(ctx, sid); !errors.Is(err, iam.ErrUnauthorized) {
			t.Fatalf("sid %q after SignOutAll = %v, want unauthorized", sid, err)
		}
	}
}

func TestRefreshSessionPropagatesToLiveSIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustSignUpUsername(t, env, "alice", "hunter2-hunter2")
	res := mustSignInUsername(t, env, "alice", "hunter2-hunter2")

	if _, err := env.engine.CreatePermission(ctx, iam.PermGetUsers, "", ""); err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	if _, err := env.engine.UpdateUserPermissions(ctx, user.ID, []string{iam.PermGetUsers}); err != nil {
		t.Fatalf("UpdateUserPermissions: %v", err)
	}

	state, err := env.engine.GetSessionBySID(ctx, res.SID)
	if err != nil {
		t.Fatalf("GetSessionBySID: %v", err)
	}
	if !state.HasPermission(iam.PermGetUsers) {
		t.Fatalf("existing session did not observe the new grant: %+v", state)
	}
}

func TestRefreshSessionWithoutSessionIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustSignUpUsername(t, env, "alice", "hunter2-hunter2")
	if err := env.engine.RefreshSession(ctx, user.ID); err != nil {
		t.Fatalf("RefreshSession without session: %v", err)
	}

	// A refresh must not conjure a session out of nothing.
	res := mustSignInUsername(t, env, "alice", "hunter2-hunter2")
	if err := env.engine.SignOutAll(ctx, user.ID); err != nil {
		t.Fatalf("SignOutAll: %v", err)
	}
	if err := env.engine.RefreshSession(ctx, user.ID); err != nil {
		t.Fatalf("RefreshSession after sign-out: %v", err)
	}
	if _, err := env.engine.GetSessionBySID(ctx, res.SID); !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("sid after refresh-on-signed-out = %v, want unauthorized", err)
	}
}

func TestChangePasswordRotatesAndRevokes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustSignUpUsername(t, env, "alice", "old-password-1")
	res := mustSignInUsername(t, env, "alice", "old-password-1")

	if err := env.engine.ChangePassword(ctx, user.ID, "wrong-password", "new-password-1"); !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("change with wrong old password = %v, want unauthorized", err)
	}
	if err := env.engine.ChangePassword(ctx, user.ID, "old-password-1", "new-password-1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := env.engine.GetSessionBySID(ctx, res.SID); !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("session after password change = %v, want unauthorized", err)
	}
	if _, err := env.engine.SignInWithUsername(ctx, "alice", "old-password-1"); !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("old password after change = %v, want unauthorized", err)
	}
	mustSignInUsername(t, env, "alice", "new-password-1")
}

func TestResetPasswordLeavesSessionsAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	email := "alice@example.com"
	if _, err := env.engine.SignUpWithEmail(ctx, email, "old-password-1"); err != nil {
		t.Fatalf("SignUpWithEmail: %v", err)
	}
	res, err := env.engine.SignInWithEmail(ctx, email, "old-password-1")
	if err != nil {
		t.Fatalf("SignInWithEmail: %v", err)
	}

	ticket := env.ticket(t, "email:"+email)
	if err := env.engine.ResetPasswordByEmail(ctx, email, "new-password-1", ticket); err != nil {
		t.Fatalf("ResetPasswordByEmail: %v", err)
	}

	// Recovery rewrites the credential but does not revoke sessions.
	if _, err := env.engine.GetSessionBySID(ctx, res.SID); err != nil {
		t.Fatalf("session after reset should survive: %v", err)
	}
	if _, err := env.engine.SignInWithEmail(ctx, email, "old-password-1"); !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("old password after reset = %v, want unauthorized", err)
	}
	if _, err := env.engine.SignInWithEmail(ctx, email, "new-password-1"); err != nil {
		t.Fatalf("new password after reset: %v", err)
	}
}

func TestResetPasswordForPasswordlessAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	phone := "+15550002222"
	signUpTicket := env.ticket(t, "sms:"+phone)
	if _, err := env.engine.SignUpWithPhoneNumber(ctx, phone, signUpTicket, ""); err != nil {
		t.Fatalf("SignUpWithPhoneNumber: %v", err)
	}

	resetTicket := env.ticket(t, "sms:"+phone)
	if err := env.engine.ResetPasswordByPhoneNumber(ctx, phone, "first-password-1", resetTicket); err != nil {
		t.Fatalf("ResetPasswordByPhoneNumber: %v", err)
	}
	if _, err := env.engine.SignInWithPhoneNumberAndPassword(ctx, phone, "first-password-1"); err != nil {
		t.Fatalf("sign-in with freshly set password: %v", err)
	}
}

func TestPhoneTicketIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	phone := "+15550003333"
	ticket := env.ticket(t, "sms:"+phone)

	user, err := env.engine.SignUpWithPhoneNumber(ctx, phone, ticket, "")
	if err != nil {
		t.Fatalf("SignUpWithPhoneNumber: %v", err)
	}
	if !user.PhoneNumberVerified {
		t.Fatal("phone sign-up must record the number as verified")
	}

	// The ticket was consumed by the sign-up.
	if _, err := env.engine.SignInWithPhoneNumberAndTicket(ctx, phone, ticket); !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("reused ticket = %v, want unauthorized", err)
	}

	fresh := env.ticket(t, "sms:"+phone)
	res, err := env.engine.SignInWithPhoneNumberAndTicket(ctx, phone, fresh)
	if err != nil {
		t.Fatalf("SignInWithPhoneNumberAndTicket: %v", err)
	}
	if res.User.ID != user.ID {
		t.Fatalf("ticket sign-in resolved %q, want %q", res.User.ID, user.ID)
	}
}

func TestTicketSubjectIsScoped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ticket := env.ticket(t, "sms:+15550004444")

	// A ticket for one number cannot register another.
	_, err := env.engine.SignUpWithPhoneNumber(ctx, "+15550005555", ticket, "")
	if !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("cross-subject ticket = %v, want unauthorized", err)
	}
}

func TestBindEmailMarksVerifiedAndRefreshes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := mustSignUpUsername(t, env, "alice", "hunter2-hunter2")
	res := mustSignInUsername(t, env, "alice", "hunter2-hunter2")

	email := "alice@example.com"
	ticket := env.ticket(t, "email:"+email)
	if err := env.engine.BindEmail(ctx, user.ID, email, ticket); err != nil {
		t.Fatalf("BindEmail: %v", err)
	}

	got, err := env.engine.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Email != email || !got.EmailVerified {
		t.Fatalf("bound user = %+v, want verified %q", got, email)
	}

	state, err := env.engine.GetSessionBySID(ctx, res.SID)
	if err != nil {
		t.Fatalf("GetSessionBySID: %v", err)
	}
	if !state.EmailVerified {
		t.Fatal("live session did not observe the verified email")
	}
}

func TestBindPhoneNumberConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	phone := "+15550006666"
	signUpTicket := env.ticket(t, "sms:"+phone)
	if _, err := env.engine.SignUpWithPhoneNumber(ctx, phone, signUpTicket, ""); err != nil {
		t.Fatalf("SignUpWithPhoneNumber: %v", err)
	}

	other := mustSignUpUsername(t, env, "bob", "hunter2-hunter2")
	bindTicket := env.ticket(t, "sms:"+phone)
	err := env.engine.BindPhoneNumber(ctx, other.ID, phone, bindTicket)
	if !errors.Is(err, iam.ErrConflict) {
		t.Fatalf("binding a taken number = %v, want conflict", err)
	}
}

func TestSignUpConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mustSignUpUsername(t, env, "alice", "hunter2-hunter2")
	if _, err := env.engine.SignUpWithUsername(ctx, "alice", "another-pw-123"); !errors.Is(err, iam.ErrConflict) {
		t.Fatalf("duplicate username = %v, want conflict", err)
	}

	if _, err := env.engine.SignUpWithEmail(ctx, "a@example.com", "pw-123456789"); err != nil {
		t.Fatalf("SignUpWithEmail: %v", err)
	}
	if _, err := env.engine.SignUpWithEmail(ctx, "a@example.com", "pw-123456789"); !errors.Is(err, iam.ErrConflict) {
		t.Fatalf("duplicate email = %v, want conflict", err)
	}
}

func TestExpiredSIDRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mustSignUpUsername(t, env, "alice", "hunter2-hunter2")
	res := mustSignInUsername(t, env, "alice", "hunter2-hunter2")

	env.redis.FastForward(2*time.Hour + time.Minute)

	if _, err := env.engine.GetSessionBySID(ctx, res.SID); !errors.Is(err, iam.ErrUnauthorized) {
		t.Fatalf("expired sid = %v, want unauthorized", err)
	}
}

func TestAuditPipelineDeliversEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sink := iam.NewChannelSink(16)
	store := memstore.New()
	cfg := iam.Config{
		Session: iam.SessionConfig{
			ExpiresIn: time.Hour,
			Token:     iam.TokenConfig{Secret: "test-secret"},
		},
		Password: password.Config{
			Memory:      8 * 1024,
			Time:        1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   16,
		},
		Audit: iam.AuditConfig{Enabled: true, BufferSize: 16, Sink: sink},
	}
	engine, err := iam.New(cfg, store.Stores(), session.NewStore(client, "iam"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if _, err := engine.SignUpWithUsername(ctx, "alice", "hunter2-hunter2"); err != nil {
		t.Fatalf("SignUpWithUsername: %v", err)
	}
	if _, err := engine.SignInWithUsername(ctx, "alice", "wrong-password"); err == nil {
		t.Fatal("expected sign-in failure")
	}
	engine.Close() // drains the dispatcher

	var events []iam.AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
			continue
		default:
		}
		break
	}
	if len(events) != 2 {
		t.Fatalf("got %d audit events, want 2: %+v", len(events), events)
	}
	if events[0].EventType != iam.AuditSignUp || !events[0].Success {
		t.Fatalf("first event = %+v, want successful sign-up", events[0])
	}
	if events[1].EventType != iam.AuditSignIn || events[1].Success {
		t.Fatalf("second event = %+v, want failed sign-in", events[1])
	}
	if events[1].Error == "" {
		t.Fatal("failed event should carry the internal error for the audit trail")
	}
}

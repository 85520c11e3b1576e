package iam

import "context"

// EventListener observes engine state transitions. Methods are invoked
// synchronously after the transition commits. Errors are logged and never
// propagated; a slow listener slows the calling request.
type EventListener interface {
	OnUserCreated(ctx context.Context, user *User) error
	OnSignIn(ctx context.Context, state *UserState) error
	OnGetSession(ctx context.Context, state *UserState) error
	OnSignOut(ctx context.Context, state *UserState) error
	OnUserBlocked(ctx context.Context, user *User) error
	OnUserUnblocked(ctx context.Context, user *User) error
	OnPermissionUpdated(ctx context.Context, user *User) error
}

// NoopListener ignores every event. Embed it to implement only the events
// you care about.
type NoopListener struct{}

func (NoopListener) OnUserCreated(context.Context, *User) error       { return nil }
func (NoopListener) OnSignIn(context.Context, *UserState) error       { return nil }
func (NoopListener) OnGetSession(context.Context, *UserState) error   { return nil }
func (NoopListener) OnSignOut(context.Context, *UserState) error      { return nil }
func (NoopListener) OnUserBlocked(context.Context, *User) error       { return nil }
func (NoopListener) OnUserUnblocked(context.Context, *User) error     { return nil }
func (NoopListener) OnPermissionUpdated(context.Context, *User) error { return nil }

var _ EventListener = NoopListener{}

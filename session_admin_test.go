package iam_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/atonlab/iam"
)

func TestSessionStoreAdministration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"id":"svc-1","permissions":["get_users"]}`)
	if err := env.engine.SetSessionObject(ctx, "svc-1", payload, 0); err != nil {
		t.Fatalf("SetSessionObject: %v", err)
	}

	got, err := env.engine.GetSessionObject(ctx, "svc-1")
	if err != nil {
		t.Fatalf("GetSessionObject: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("object = %s, want %s", got, payload)
	}

	sid, err := env.engine.CreateSessionSID(ctx, "svc-1", 0)
	if err != nil {
		t.Fatalf("CreateSessionSID: %v", err)
	}
	got, err = env.engine.GetSessionObjectBySID(ctx, sid)
	if err != nil {
		t.Fatalf("GetSessionObjectBySID: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("object by sid = %s, want %s", got, payload)
	}

	// A minted SID also works through the regular session path when the
	// object is a UserState.
	state, err := env.engine.GetSessionBySID(ctx, sid)
	if err != nil {
		t.Fatalf("GetSessionBySID: %v", err)
	}
	if state.ID != "svc-1" || !state.HasPermission("get_users") {
		t.Fatalf("unexpected state: %+v", state)
	}

	if err := env.engine.DeleteSessionObject(ctx, "svc-1"); err != nil {
		t.Fatalf("DeleteSessionObject: %v", err)
	}
	if _, err := env.engine.GetSessionObject(ctx, "svc-1"); !errors.Is(err, iam.ErrNotFound) {
		t.Fatalf("deleted object lookup = %v, want not found", err)
	}
	if _, err := env.engine.GetSessionObjectBySID(ctx, sid); !errors.Is(err, iam.ErrNotFound) {
		t.Fatalf("dangling sid admin lookup = %v, want not found", err)
	}

	if err := env.engine.DeleteSessionSID(ctx, sid); err != nil {
		t.Fatalf("DeleteSessionSID: %v", err)
	}
}

package middleware

import (
	"context"
	"testing"
)

func TestIdentityRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), "u-1", "admin", "ada@example.com")
	id, ok := IdentityFromContext(ctx)
	if !ok || id.UserID != "u-1" || id.Role != "admin" || id.Email != "ada@example.com" {
		t.Fatalf("unexpected identity %+v (ok=%v)", id, ok)
	}
	if RoleFromContext(ctx) != "admin" || EmailFromContext(ctx) != "ada@example.com" {
		t.Fatalf("accessors disagree with identity")
	}
}

func TestIdentityAbsentForAnonymousRequests(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatalf("background context should be anonymous")
	}
	if _, ok := IdentityFromContext(WithIdentity(context.Background(), "", "customer", "")); ok {
		t.Fatalf("empty user id should be anonymous")
	}
	if UserIDFromContext(nil) != "" { //nolint:staticcheck
		t.Fatalf("nil context should yield empty user id")
	}
}

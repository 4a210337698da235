package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"etalase/backend/internal/domain"
)

type userStoreStub struct {
	users []domain.UserAccount
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.users = append(s.users, user)
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	out := make([]domain.UserAccount, len(s.users))
	copy(out, s.users)
	return out, nil
}

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func TestNewAuthManagerRejectsShortSecret(t *testing.T) {
	if _, err := NewAuthManager(context.Background(), "short", time.Hour, &userStoreStub{}); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestLoginIssuesTokenForHashedUser(t *testing.T) {
	stub := &userStoreStub{users: []domain.UserAccount{
		{Username: "Admin", Password: mustHashPassword(t, "s3cret-pass"), Role: domain.RoleAdmin, Active: true},
	}}
	auth, err := NewAuthManager(context.Background(), testSecret, time.Hour, stub)
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: " admin ", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsPlainTextAndInactive(t *testing.T) {
	stub := &userStoreStub{users: []domain.UserAccount{
		{Username: "legacy", Password: "plain-password", Role: domain.RoleCashier, Active: true},
		{Username: "retired", Password: mustHashPassword(t, "retired-pass"), Role: domain.RoleCashier, Active: false},
	}}
	auth, err := NewAuthManager(context.Background(), testSecret, time.Hour, stub)
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "legacy", Password: "plain-password"}); err == nil {
		t.Fatalf("expected plain text password to be refused")
	}
	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "retired", Password: "retired-pass"}); err == nil || !strings.Contains(err.Error(), "inactive") {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

func TestParseTokenRejectsForeignIssuerAndExpiry(t *testing.T) {
	auth, err := NewAuthManager(context.Background(), testSecret, time.Hour, &userStoreStub{})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	foreign := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "admin",
			Issuer:    "someone-else",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleAdmin,
	})
	signed, _ := foreign.SignedString([]byte(testSecret))
	if _, err := auth.ParseToken(signed); err == nil {
		t.Fatalf("expected foreign issuer to be rejected")
	}

	expired, err := auth.sign("admin", domain.RoleAdmin, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	stub := &userStoreStub{}
	auth, err := NewAuthManager(context.Background(), testSecret, time.Hour, stub)
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	if _, err := auth.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "abc", Password: "long-enough"}); err == nil {
		t.Fatalf("expected short username to be rejected")
	}
	user, err := auth.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "Budi", Password: "budi-password"})
	if err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if user.Username != "budi" || len(stub.users) != 1 {
		t.Fatalf("unexpected cashier %+v", user)
	}
	if !isPasswordHash(stub.users[0].Password) || stub.users[0].Password == "budi-password" {
		t.Fatalf("expected stored password to be a bcrypt hash")
	}
	if _, err := auth.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "budi", Password: "budi-password"}); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}
}

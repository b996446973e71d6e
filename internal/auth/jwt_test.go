package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signHS256(t *testing.T, secret string, issuer string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   "user-1",
		UserType: "student",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestInspectorHS256(t *testing.T) {
	now := time.Now()
	inspector := NewInspector(nil, "secret", "semaphore")

	valid := signHS256(t, "secret", "semaphore", now.Add(time.Hour))
	claims, err := inspector.Parse(valid, now)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.UserID != "user-1" || claims.UserType != "student" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if expired, err := inspector.Expired(valid, now); err != nil || expired {
		t.Fatalf("expected live token, got expired=%v err=%v", expired, err)
	}

	stale := signHS256(t, "secret", "semaphore", now.Add(-time.Minute))
	if expired, err := inspector.Expired(stale, now); err != nil || !expired {
		t.Fatalf("expected expired token, got expired=%v err=%v", expired, err)
	}

	forged := signHS256(t, "other", "semaphore", now.Add(time.Hour))
	if expired, _ := inspector.Expired(forged, now); !expired {
		t.Fatalf("expected forged token to be rejected")
	}

	wrongIssuer := signHS256(t, "secret", "elsewhere", now.Add(time.Hour))
	if _, err := inspector.Parse(wrongIssuer, now); err == nil {
		t.Fatalf("expected issuer mismatch")
	}
}

func TestInspectorRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("key error: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	pemValue := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	publicKey, err := ParseRSAPublicKey(pemValue)
	if err != nil {
		t.Fatalf("parse key error: %v", err)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		UserID:           "user-2",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	})
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}

	inspector := NewInspector(publicKey, "", "")
	claims, err := inspector.Parse(signed, now)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.UserID != "user-2" {
		t.Fatalf("unexpected user %q", claims.UserID)
	}
	if expired, _ := inspector.Expired(signed, now.Add(2*time.Hour)); !expired {
		t.Fatalf("expected token to expire")
	}
}

func TestInspectorUnverified(t *testing.T) {
	now := time.Now()
	inspector := NewInspector(nil, "", "")
	if inspector.Verifying() {
		t.Fatalf("no key configured")
	}

	token := signHS256(t, "unknown-secret", "", now.Add(time.Minute))
	if expired, err := inspector.Expired(token, now); err != nil || expired {
		t.Fatalf("expected live token, got expired=%v err=%v", expired, err)
	}
	if expired, err := inspector.Expired(token, now.Add(time.Hour)); err != nil || !expired {
		t.Fatalf("expected expired token, got expired=%v err=%v", expired, err)
	}

	expired, err := inspector.Expired("opaque-session-token", now)
	if expired || !errors.Is(err, jwt.ErrTokenMalformed) {
		t.Fatalf("opaque token: expired=%v err=%v", expired, err)
	}
}

func TestParseRSAPublicKeyEmpty(t *testing.T) {
	key, err := ParseRSAPublicKey("")
	if err != nil || key != nil {
		t.Fatalf("expected nil key, got %v %v", key, err)
	}
}

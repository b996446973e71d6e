package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLanding(t *testing.T) {
	out, err := run(t, "landing", "--role", "student")
	if err != nil {
		t.Fatalf("landing: %v", err)
	}
	if strings.TrimSpace(out) != "/schedule" {
		t.Fatalf("unexpected landing %q", out)
	}
	if _, err := run(t, "landing", "--role", "janitor"); err == nil {
		t.Fatalf("expected unknown role error")
	}
}

func TestCheck(t *testing.T) {
	cases := []struct {
		args   []string
		prefix string
	}{
		{[]string{"check", "--role", "student", "/courses/7"}, "authorized /courses/:id"},
		{[]string{"check", "--role", "student", "/users"}, "forbidden /users"},
		{[]string{"check", "/attendance"}, "unauthenticated /attendance"},
		{[]string{"check", "/login"}, "public /login"},
	}
	for _, tc := range cases {
		out, err := run(t, tc.args...)
		if err != nil {
			t.Fatalf("%v: %v", tc.args, err)
		}
		if !strings.HasPrefix(out, tc.prefix) {
			t.Fatalf("%v: expected prefix %q, got %q", tc.args, tc.prefix, out)
		}
	}
	if _, err := run(t, "check", "/nowhere"); err == nil {
		t.Fatalf("expected not found error")
	}
}

func TestRoutes(t *testing.T) {
	out, err := run(t, "routes", "--role", "professor")
	if err != nil {
		t.Fatalf("routes: %v", err)
	}
	if !strings.Contains(out, "/attendance") || strings.Contains(out, "/users") {
		t.Fatalf("unexpected routes:\n%s", out)
	}
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	doc := "redirects:\n  login: /login\n  notFound: /404\n  afterLogin:\n    admin: /home\nroutes:\n  - path: /home\n    name: Home\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := run(t, "--file", path, "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if strings.TrimSpace(out) != "ok: 1 rules" {
		t.Fatalf("unexpected output %q", out)
	}
}

package tests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

type redirectDirective struct {
	To        string `json:"to"`
	ReturnUrl string `json:"returnUrl"`
	Toast     string `json:"toast"`
}

func rawRequest(t *testing.T, env *testEnv, method, endpoint, authToken string) (int, redirectDirective) {
	t.Helper()

	req := httptest.NewRequest(method, endpoint, nil)
	if authToken != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %v", authToken))
	}

	w := httptest.NewRecorder()
	env.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json response for endpoint %v, got content type %v", endpoint, ct)
	}

	var directive redirectDirective
	if err := json.NewDecoder(res.Body).Decode(&directive); err != nil {
		t.Fatalf("error parsing response from endpoint %v: %v", endpoint, err)
	}

	return res.StatusCode, directive
}

func TestAnonymousRequestsRedirectToLogin(t *testing.T) {
	env := setupTestEnv(t)

	status, directive := rawRequest(t, env, "GET", "/project/list?archived=true", "")

	if status != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", status)
	}
	if directive.To != "/auth/login" {
		t.Fatalf("expected redirect to login, got %v", directive.To)
	}
	if directive.ReturnUrl != "/project/list?archived=true" {
		t.Fatalf("return url should preserve the attempted path and query, got %v", directive.ReturnUrl)
	}
	if directive.Toast != "" {
		t.Fatalf("login redirects should not carry a toast, got %v", directive.Toast)
	}
}

func TestDeniedRequestsRedirectToDashboard(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	status, directive := rawRequest(t, env, "POST", "/user/create", user.authToken)

	if status != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", status)
	}
	if directive.To != "/dashboard" {
		t.Fatalf("expected redirect to dashboard, got %v", directive.To)
	}
	if directive.Toast != "Access Denied" {
		t.Fatalf("expected access denied toast, got %v", directive.Toast)
	}
	if directive.ReturnUrl != "" {
		t.Fatalf("dashboard redirects should not carry a return url, got %v", directive.ReturnUrl)
	}
}

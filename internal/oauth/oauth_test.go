package oauth

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()
	tokensDir := filepath.Join(t.TempDir(), "tokens")
	if err := os.MkdirAll(tokensDir, 0700); err != nil {
		t.Fatal(err)
	}
	return &Manager{
		config:    &oauth2.Config{Scopes: Scopes},
		tokensDir: tokensDir,
		logger:    slog.Default(),
	}
}

func TestTokenRoundTrip(t *testing.T) {
	mgr := setupTestManager(t)

	token := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
	}
	if err := mgr.saveToken("a@example.com", token); err != nil {
		t.Fatalf("saveToken: %v", err)
	}

	if !mgr.HasToken("a@example.com") {
		t.Error("HasToken = false after save")
	}

	loaded, err := mgr.loadToken("a@example.com")
	if err != nil {
		t.Fatalf("loadToken: %v", err)
	}
	if loaded.AccessToken != "access" || loaded.RefreshToken != "refresh" {
		t.Errorf("loaded token = %+v", loaded)
	}
}

func TestHasTokenMissing(t *testing.T) {
	mgr := setupTestManager(t)
	if mgr.HasToken("nobody@example.com") {
		t.Error("HasToken = true for missing token")
	}
}

func TestDeleteToken(t *testing.T) {
	mgr := setupTestManager(t)

	if err := mgr.saveToken("a@example.com", &oauth2.Token{AccessToken: "x"}); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	if err := mgr.DeleteToken("a@example.com"); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if mgr.HasToken("a@example.com") {
		t.Error("token still present after DeleteToken")
	}

	// Deleting a missing token is a no-op.
	if err := mgr.DeleteToken("a@example.com"); err != nil {
		t.Errorf("DeleteToken on missing token: %v", err)
	}
}

func TestTokenPathStaysInTokensDir(t *testing.T) {
	mgr := setupTestManager(t)

	tests := []string{
		"normal@example.com",
		"../escape@example.com",
		"..\\escape@example.com",
		"a/b@example.com",
	}
	base := filepath.Clean(mgr.tokensDir)
	for _, email := range tests {
		path := mgr.tokenPath(email)
		if !strings.HasPrefix(filepath.Clean(path), base) {
			t.Errorf("tokenPath(%q) = %q escapes tokens dir", email, path)
		}
	}
}

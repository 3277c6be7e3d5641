package credentials

import (
	"testing"
)

func TestEnvStore(t *testing.T) {
	t.Setenv("TOKENRELAY_AUTH_TOKEN", "env-access")
	t.Setenv("TOKENRELAY_REFRESH_TOKEN", "")

	store := NewEnvStore()

	v, ok := store.Read(KeyAccessToken)
	if !ok || v != "env-access" {
		t.Errorf("Expected env-access, got %q (%v)", v, ok)
	}

	if _, ok := store.Read(KeyRefreshToken); ok {
		t.Error("Expected empty variable to read as absent")
	}

	if _, ok := store.Read("unknown"); ok {
		t.Error("Expected unknown key to read as absent")
	}

	if store.Write(KeyAccessToken, "new") {
		t.Error("Expected Write to report not persisted")
	}

	// Remove is a no-op
	store.Remove(KeyAccessToken)
	if v, _ := store.Read(KeyAccessToken); v != "env-access" {
		t.Errorf("Expected env-access after Remove, got %q", v)
	}
}

package policy

import (
	"testing"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
)

func TestCheckCommandAllowed(t *testing.T) {
	if err := CheckCommandAllowed(nil, "orders watch"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckCommandAllowed([]string{"Orders  Watch"}, "orders watch"); err != nil {
		t.Fatalf("expected command to be allowed: %v", err)
	}
	err := CheckCommandAllowed([]string{"sell"}, "buy")
	if code := clierr.ExitCode(err); code != int(clierr.CodeBlocked) {
		t.Fatalf("expected blocked exit code, got %d err=%v", code, err)
	}
}

func TestCheckCommandAllowedGroups(t *testing.T) {
	allow := []string{"orders", "", "price"}
	for _, path := range []string{"orders list", "orders cancel", "price"} {
		if err := CheckCommandAllowed(allow, path); err != nil {
			t.Fatalf("expected %q to be allowed: %v", path, err)
		}
	}
	for _, path := range []string{"ordersx", "buy", "token info"} {
		if err := CheckCommandAllowed(allow, path); err == nil {
			t.Fatalf("expected %q to be blocked", path)
		}
	}
}

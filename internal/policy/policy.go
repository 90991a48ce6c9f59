package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
)

// CheckCommandAllowed enforces --enable-commands. An empty allowlist allows
// everything; an entry allows its own path and every subcommand below it.
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	path := normalize(commandPath)
	for _, entry := range allowlist {
		allowed := normalize(entry)
		if allowed == "" {
			continue
		}
		if path == allowed || strings.HasPrefix(path, allowed+" ") {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy: "+path)
}

func normalize(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

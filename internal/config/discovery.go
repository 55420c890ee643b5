package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "TELBRIDGE_CONFIG"

// Discover resolves the config file to load. Priority: explicit path,
// $TELBRIDGE_CONFIG, ~/.config/telbridge/config.yaml, /etc/telbridge/config.yaml,
// ./config.yaml. An explicit path or env value is returned even if missing so
// Load can report it.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}

	candidates := SearchPaths()
	for _, p := range candidates {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %s)\n"+
		"Hint: pass --config or set $%s", strings.Join(candidates, ", "), EnvConfigPath)
}

// SearchPaths lists the implicit config locations in priority order.
func SearchPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "telbridge", "config.yaml"))
	}
	return append(paths, "/etc/telbridge/config.yaml", "config.yaml")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

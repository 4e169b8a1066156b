package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/blockedby/tgfetch/internal/config"
)

// Checks config files in CI. Credentials usually come from the environment
// there, so their absence is only reported.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("No files to check.")
		os.Exit(0)
	}

	failed := false
	for _, path := range os.Args[1:] {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("❌ Failed to read %s: %v\n", path, err)
			failed = true
			continue
		}

		cfg, err := config.Parse(data)
		if err != nil {
			fmt.Printf("❌ Invalid YAML in %s: %v\n", path, err)
			failed = true
			continue
		}
		if err := cfg.Validate(); err != nil {
			if errors.Is(err, config.ErrMissingCredentials) {
				fmt.Printf("⚠️  %s has no credentials, they must come from the environment\n", path)
			} else {
				fmt.Printf("❌ Invalid config %s: %v\n", path, err)
				failed = true
				continue
			}
		}
		fmt.Printf("✅ %s is valid\n", path)
	}

	if failed {
		os.Exit(1)
	}
}

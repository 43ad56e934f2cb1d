// Command filescope indexes files into a local vector store and answers
// similarity searches over it. All state lives in a single SQLite
// database; nothing leaves the machine.
package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/filescope/filescope/internal/store"
)

const envDBPath = "FILESCOPE_DB_PATH"

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags)

	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("filescope: %v", err)
	}
}

// resolveDBPath prefers the flag, then the environment, then a dotfile
// under the home directory.
func resolveDBPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(envDBPath); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "filescope.db"
	}
	return filepath.Join(home, ".filescope", "index.db")
}

func openStore(dbPath string) (*store.Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	log.Printf("opening index at %s (%s driver)", dbPath, store.BuildMode)
	return store.Open(dbPath)
}

// Package paths resolves the single application-data directory used by every
// component. All of C3, C4, C5 and C1's file fallback must agree on this
// root or the engine ends up with split-brain state (SPEC_FULL.md §8,
// "Path agreement").
package paths

import (
	"os"
	"path/filepath"
)

const appName = "mailengine"

// Layout holds every on-disk location the engine touches, all rooted at Root.
type Layout struct {
	Root            string
	MetadataDBFile  string
	VectorDBFile    string
	ModelsDir       string
	CredentialsFile string
	SettingsFile    string
}

// Resolve computes the Layout rooted at override, or at the OS-appropriate
// user config directory when override is empty.
func Resolve(override string) (Layout, error) {
	root := override
	if root == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			home, herr := os.UserHomeDir()
			if herr != nil {
				return Layout{}, herr
			}
			base = filepath.Join(home, ".config")
		}
		root = filepath.Join(base, appName)
	}

	dbDir := filepath.Join(root, "db")
	if err := os.MkdirAll(dbDir, 0o700); err != nil {
		return Layout{}, err
	}
	modelsDir := filepath.Join(root, "models")
	if err := os.MkdirAll(modelsDir, 0o700); err != nil {
		return Layout{}, err
	}

	return Layout{
		Root:            root,
		MetadataDBFile:  filepath.Join(dbDir, "messages.sqlite"),
		VectorDBFile:    filepath.Join(dbDir, "vectors.sqlite"),
		ModelsDir:       modelsDir,
		CredentialsFile: filepath.Join(root, "credentials.json"),
		SettingsFile:    filepath.Join(root, "settings.json"),
	}, nil
}

package config

import (
	"os"

	"github.com/adrg/xdg"
)

// FileName is the project-level config file name.
const FileName = "prefetch.yaml"

const userConfigRel = "prefetch/" + FileName

// Discover returns the config file to load: projectPath when it exists,
// otherwise the user-level file under the XDG config home, otherwise "".
func Discover(projectPath string) string {
	if projectPath != "" {
		if _, err := os.Stat(projectPath); err == nil {
			return projectPath
		}
	}
	if p, err := xdg.SearchConfigFile(userConfigRel); err == nil {
		return p
	}
	return ""
}

// UserConfigPath returns where the user-level config file lives, creating its
// parent directory.
func UserConfigPath() (string, error) {
	return xdg.ConfigFile(userConfigRel)
}

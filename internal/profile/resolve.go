package profile

import "github.com/matheus3301/talk/internal/config"

// DefaultName is used when neither a flag nor the config names a profile.
const DefaultName = "default"

// Resolve picks the active profile: the flag, then the config file's
// default_profile, then DefaultName.
func Resolve(flagOverride string, cfg *config.Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg != nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}

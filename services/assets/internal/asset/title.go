package asset

import "strings"

// LevelTitle returns the variant title for level: "<base> (<Level>)".
func LevelTitle(base string, level SkillLevel) string {
	base = StripLevelSuffix(base)
	if !level.Valid() {
		return base
	}
	return base + " (" + level.Label() + ")"
}

// StripLevelSuffix removes a trailing " (<Level>)" suffix for any known level.
func StripLevelSuffix(title string) string {
	title = strings.TrimSpace(title)
	for _, l := range Levels {
		if s := " (" + l.Label() + ")"; strings.HasSuffix(title, s) {
			return strings.TrimSpace(strings.TrimSuffix(title, s))
		}
	}
	return title
}

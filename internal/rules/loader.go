package rules

import (
	"fmt"

	"github.com/spf13/viper"
)

// Load reads the hand-maintained rule table from a YAML file. The file is
// keyed by track, each track listing its stage entries. Not hot-reloaded;
// a process restart picks up edits.
func Load(path string) (*Table, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read rule table %s: %w", path, err)
	}

	var raw map[string][]Entry
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("decode rule table %s: %w", path, err)
	}

	tracks := make(map[Track][]Entry, len(raw))
	for name, entries := range raw {
		switch Track(name) {
		case TrackUnder7, TrackOver7:
			tracks[Track(name)] = entries
		default:
			return nil, fmt.Errorf("rule table %s: unknown track %q", path, name)
		}
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("rule table %s: no tracks defined", path)
	}

	t, err := New(tracks)
	if err != nil {
		return nil, fmt.Errorf("rule table %s: %w", path, err)
	}
	return t, nil
}

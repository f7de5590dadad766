package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"pkt.systems/cortex/schema"
)

// SettingsPath is the JSON-with-comments settings file.
func (s *Store) SettingsPath() string {
	return filepath.Join(s.dir, settingsFile)
}

// LoadSettings reads the settings file, accepting comments and trailing
// commas. A missing file yields an empty object.
func (s *Store) LoadSettings() (schema.RawJSON, error) {
	data, err := os.ReadFile(s.SettingsPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schema.RawJSON(`{}`), nil
		}
		return nil, schema.IO(err)
	}
	plain := jsonc.ToJSON(data)
	var obj map[string]any
	if err := json.Unmarshal(plain, &obj); err != nil {
		return nil, schema.BadArgument("settings", "invalid settings file: "+err.Error())
	}
	return schema.RawJSON(plain), nil
}

// Section returns one top-level settings key, or null when absent.
func (s *Store) Section(name string) (schema.RawJSON, error) {
	raw, err := s.LoadSettings()
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, schema.BadArgument("settings", err.Error())
	}
	if v, ok := obj[name]; ok {
		return schema.RawJSON(v), nil
	}
	return schema.RawJSON(`null`), nil
}

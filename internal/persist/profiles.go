package persist

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"pkt.systems/cortex/schema"
)

type profileFile struct {
	Profiles []schema.SSHProfile `json:"profiles"`
}

func (s *Store) profilesPath() string {
	return filepath.Join(s.dir, profilesFile)
}

func (s *Store) loadProfiles() ([]schema.SSHProfile, error) {
	var file profileFile
	if _, err := s.readJSON(s.profilesPath(), &file); err != nil {
		return nil, schema.IO(err)
	}
	return file.Profiles, nil
}

// Profiles lists saved SSH profiles sorted by name.
func (s *Store) Profiles() ([]schema.SSHProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles, err := s.loadProfiles()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(profiles, func(i, j int) bool {
		return strings.ToLower(profiles[i].Name) < strings.ToLower(profiles[j].Name)
	})
	return profiles, nil
}

// Profile returns the profile with id.
func (s *Store) Profile(id string) (schema.SSHProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles, err := s.loadProfiles()
	if err != nil {
		return schema.SSHProfile{}, err
	}
	for _, p := range profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return schema.SSHProfile{}, schema.NotFound("ssh profile", id)
}

// SaveProfile inserts or replaces a profile, assigning an id when empty.
func (s *Store) SaveProfile(profile schema.SSHProfile) (schema.SSHProfile, error) {
	if err := ValidateProfile(profile); err != nil {
		return schema.SSHProfile{}, err
	}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	if profile.Port == 0 {
		profile.Port = 22
	}
	if profile.Name == "" {
		profile.Name = profile.Username + "@" + profile.Host
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles, err := s.loadProfiles()
	if err != nil {
		return schema.SSHProfile{}, err
	}
	replaced := false
	for i := range profiles {
		if profiles[i].ID == profile.ID {
			profiles[i] = profile
			replaced = true
			break
		}
	}
	if !replaced {
		profiles = append(profiles, profile)
	}
	if err := s.writeJSON(s.profilesPath(), profileFile{Profiles: profiles}); err != nil {
		return schema.SSHProfile{}, schema.IO(err)
	}
	return profile, nil
}

// DeleteProfile removes a profile. Removing a missing profile succeeds.
func (s *Store) DeleteProfile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles, err := s.loadProfiles()
	if err != nil {
		return err
	}
	kept := profiles[:0]
	for _, p := range profiles {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(profiles) {
		return nil
	}
	if err := s.writeJSON(s.profilesPath(), profileFile{Profiles: kept}); err != nil {
		return schema.IO(err)
	}
	return nil
}

// ValidateProfile checks the fields a connection needs.
func ValidateProfile(p schema.SSHProfile) error {
	if strings.TrimSpace(p.Host) == "" {
		return schema.BadArgument("host", "is required")
	}
	if strings.TrimSpace(p.Username) == "" {
		return schema.BadArgument("username", "is required")
	}
	if p.Port < 0 || p.Port > 65535 {
		return schema.BadArgument("port", "out of range")
	}
	switch p.Auth.Type {
	case schema.SSHAuthPassword, schema.SSHAuthAgent:
	case schema.SSHAuthKey:
		if strings.TrimSpace(p.Auth.KeyPath) == "" {
			return schema.BadArgument("auth.keyPath", "is required for key auth")
		}
	default:
		return schema.BadArgument("auth.type", "must be password, key or agent")
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fieldops/dayplan/pkg/contracts"
)

// Preference profiles let a deployment ship named scheduling defaults
// (work hours, lunch window, emergency types, VIP lists) as YAML files,
// profile_<name>.yaml, instead of relying on the backend for every user.

// DefaultPreferences are the built-in scheduling defaults used when no
// profile is configured.
func DefaultPreferences() contracts.PlanningPreferences {
	return contracts.PlanningPreferences{
		WorkStart:         "08:00",
		WorkEnd:           "17:00",
		LunchStart:        "12:00",
		LunchEnd:          "13:00",
		BufferMinutes:     15,
		JobGapMinutes:     10,
		EmergencyJobTypes: []string{"emergency", "burst_pipe", "gas_leak"},
		LowStockThreshold: 2,
	}
}

// LoadProfile loads a preference profile by name from profilesDir.
func LoadProfile(profilesDir, name string) (*contracts.PlanningPreferences, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	prefs := DefaultPreferences()
	if err := yaml.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if err := Validate(prefs); err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}
	return &prefs, nil
}

// LoadAllProfiles loads every profile_*.yaml in profilesDir keyed by name.
func LoadAllProfiles(profilesDir string) (map[string]*contracts.PlanningPreferences, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*contracts.PlanningPreferences, len(matches))
	for _, path := range matches {
		base := filepath.Base(path)
		name := strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		p, err := LoadProfile(profilesDir, name)
		if err != nil {
			return nil, err
		}
		profiles[name] = p
	}
	return profiles, nil
}

// Validate checks that the preferences describe a usable work day.
func Validate(prefs contracts.PlanningPreferences) error {
	workStart, err := contracts.ParseClock(prefs.WorkStart)
	if err != nil {
		return err
	}
	workEnd, err := contracts.ParseClock(prefs.WorkEnd)
	if err != nil {
		return err
	}
	lunchStart, err := contracts.ParseClock(prefs.LunchStart)
	if err != nil {
		return err
	}
	lunchEnd, err := contracts.ParseClock(prefs.LunchEnd)
	if err != nil {
		return err
	}

	if workEnd <= workStart {
		return fmt.Errorf("work window %s-%s is empty", prefs.WorkStart, prefs.WorkEnd)
	}
	if lunchEnd < lunchStart {
		return fmt.Errorf("lunch window %s-%s is inverted", prefs.LunchStart, prefs.LunchEnd)
	}
	if lunchStart < workStart || lunchEnd > workEnd {
		return fmt.Errorf("lunch window %s-%s is outside work hours", prefs.LunchStart, prefs.LunchEnd)
	}
	if prefs.BufferMinutes < 0 || prefs.JobGapMinutes < 0 {
		return fmt.Errorf("buffer and gap minutes must not be negative")
	}
	return nil
}

package config

import "fmt"

// ScheduleConfig is a prompt sent to the agent on a cron schedule
type ScheduleConfig struct {
	ID         string `json:"id" yaml:"id" toml:"id"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Schedule   string `json:"schedule" yaml:"schedule" toml:"schedule"` // cron expression, 5 or 6 fields, or @every/@daily
	Prompt     string `json:"prompt" yaml:"prompt" toml:"prompt"`
	SessionKey string `json:"session_key,omitempty" yaml:"session_key,omitempty" toml:"session_key,omitempty"`
	Enabled    bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
}

// Validate checks required fields. The expression itself is parsed by the
// scheduler when the job is added.
func (s ScheduleConfig) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.Schedule == "" {
		return fmt.Errorf("schedule %s: cron expression is required", s.ID)
	}
	if s.Prompt == "" {
		return fmt.Errorf("schedule %s: prompt is required", s.ID)
	}
	return nil
}

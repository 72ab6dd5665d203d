package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// fileTemplate mirrors the config file layout with YAML-friendly types,
// so the rendered starter file shows "10s" rather than nanoseconds.
type fileTemplate struct {
	Scope struct {
		League    string `yaml:"league"`
		AgeGroup  string `yaml:"age_group"`
		Division  string `yaml:"division"`
		DateRange string `yaml:"date_range"`
	} `yaml:"scope"`
	Paths struct {
		StateDir   string `yaml:"state_dir"`
		AuditDir   string `yaml:"audit_dir"`
		OutboxPath string `yaml:"outbox_path"`
	} `yaml:"paths"`
	Queue struct {
		Workers       int            `yaml:"workers"`
		SubmitTimeout string         `yaml:"submit_timeout"`
		Divisions     map[string]int `yaml:"divisions"`
	} `yaml:"queue"`
}

// Template renders a starter config file with every key at its default.
// The output round-trips through Load.
func Template() ([]byte, error) {
	var t fileTemplate
	t.Paths.StateDir = "data/state"
	t.Paths.AuditDir = "data/audit"
	t.Paths.OutboxPath = "data/outbox.db"
	t.Queue.Workers = 4
	t.Queue.SubmitTimeout = "10s"
	t.Queue.Divisions = map[string]int{}

	data, err := yaml.Marshal(&t)
	if err != nil {
		return nil, fmt.Errorf("render config template: %w", err)
	}
	return data, nil
}

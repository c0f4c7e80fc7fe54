package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir      string `yaml:"data_dir"`
	LogLevel     string `yaml:"log_level"`
	SnapshotPath string `yaml:"snapshot_path"`
	ListenAddr   string `yaml:"listen_addr"`

	Agents struct {
		HealthInterval      int `yaml:"health_interval_seconds"`
		SafetyInterval      int `yaml:"safety_interval_seconds"`
		ReminderInterval    int `yaml:"reminder_interval_seconds"`
		SocialInterval      int `yaml:"social_interval_seconds"`
		EmergencyInterval   int `yaml:"emergency_interval_seconds"`
		CoordinatorInterval int `yaml:"coordinator_interval_seconds"`
		MaxConcurrent       int `yaml:"max_concurrent"`
	} `yaml:"agents"`

	Health struct {
		Thresholds map[string]Threshold `yaml:"thresholds"`
	} `yaml:"health"`

	Rooms map[string]Room `yaml:"rooms"`

	Reminders map[string]ReminderType `yaml:"reminders"`

	Social struct {
		IsolationThresholdHours     float64 `yaml:"isolation_threshold_hours"`
		PreferredWeeklyInteractions int     `yaml:"preferred_weekly_interactions"`
	} `yaml:"social"`

	Emergency struct {
		EscalationIntervalMinutes int `yaml:"escalation_interval_minutes"`
		MaxLevel                  int `yaml:"max_level"`
	} `yaml:"emergency"`

	LLM struct {
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
		BaseURL     string  `yaml:"base_url"`
		APIKey      string  `yaml:"api_key"`
	} `yaml:"llm"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
}

type Threshold struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type Room struct {
	InactivityThresholdMinutes int      `yaml:"inactivity_threshold_minutes"`
	ExpectedActivities         []string `yaml:"expected_activities,omitempty"`
}

type ReminderType struct {
	Priority        string   `yaml:"priority"`
	MaxDelayMinutes int      `yaml:"max_delay_minutes"`
	PreferredTimes  []string `yaml:"preferred_times"`
}

func defaults() *Config {
	cfg := &Config{
		DataDir:      filepath.Join(os.Getenv("HOME"), ".carecompanion"),
		LogLevel:     "info",
		SnapshotPath: "carecompanion.json",
		ListenAddr:   ":8080",
	}
	cfg.Agents.HealthInterval = 60
	cfg.Agents.SafetyInterval = 30
	cfg.Agents.ReminderInterval = 60
	cfg.Agents.SocialInterval = 3600
	cfg.Agents.EmergencyInterval = 30
	cfg.Agents.CoordinatorInterval = 60
	cfg.Agents.MaxConcurrent = 4

	cfg.Health.Thresholds = map[string]Threshold{
		"heart_rate":               {Min: 60, Max: 100},
		"blood_pressure_systolic":  {Min: 90, Max: 140},
		"blood_pressure_diastolic": {Min: 60, Max: 90},
		"glucose_level":            {Min: 70, Max: 140},
		"oxygen_saturation":        {Min: 95, Max: 100},
	}

	cfg.Rooms = map[string]Room{
		"bedroom":     {InactivityThresholdMinutes: 480, ExpectedActivities: []string{"Lying", "Sitting", "No Movement"}},
		"bathroom":    {InactivityThresholdMinutes: 60, ExpectedActivities: []string{"Standing", "Sitting"}},
		"living room": {InactivityThresholdMinutes: 240, ExpectedActivities: []string{"Sitting", "Standing", "Walking"}},
		"kitchen":     {InactivityThresholdMinutes: 120, ExpectedActivities: []string{"Standing", "Walking"}},
	}

	cfg.Reminders = map[string]ReminderType{
		"medication":  {Priority: "high", MaxDelayMinutes: 30, PreferredTimes: []string{"08:00", "12:00", "18:00"}},
		"hydration":   {Priority: "medium", MaxDelayMinutes: 60, PreferredTimes: []string{"09:00", "12:00", "15:00", "18:00"}},
		"exercise":    {Priority: "medium", MaxDelayMinutes: 120, PreferredTimes: []string{"10:00", "16:00"}},
		"appointment": {Priority: "high", MaxDelayMinutes: 30, PreferredTimes: []string{"09:00"}},
	}

	cfg.Social.IsolationThresholdHours = 72
	cfg.Social.PreferredWeeklyInteractions = 5

	cfg.Emergency.EscalationIntervalMinutes = 5
	cfg.Emergency.MaxLevel = 3

	cfg.LLM.Model = "gpt-3.5-turbo"
	cfg.LLM.MaxTokens = 300
	cfg.LLM.Temperature = 0.7

	return cfg
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}

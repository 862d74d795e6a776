package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults() should validate cleanly, got: %v", err)
	}
}

func TestValidateRejectsEmptyInstruments(t *testing.T) {
	cfg := Defaults()
	cfg.Instruments.Tracked = nil
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for empty tracked instruments")
	}
	if !strings.Contains(err.Error(), "tracked must not be empty") {
		t.Errorf("expected message about empty tracked list, got: %v", err)
	}
}

func TestValidateRejectsNonPositiveRate(t *testing.T) {
	cfg := Defaults()
	cfg.Venue.MaxRequestsPerSec = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive max_requests_per_sec")
	}
}

func TestValidateRejectsNonPositivePollIntervals(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"whales", func(c *Config) { c.Whales.PollInterval = duration{0} }},
		{"hlp", func(c *Config) { c.HLP.PollInterval = duration{0} }},
		{"funding", func(c *Config) { c.Funding.PollInterval = duration{0} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected error for non-positive %s poll interval", tc.name)
			}
		})
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("5m")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Duration != 5*time.Minute {
		t.Errorf("got %v, want 5m", d.Duration)
	}
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(text) != "5m0s" {
		t.Errorf("got %q", text)
	}
}

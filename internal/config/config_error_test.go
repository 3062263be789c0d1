package config

import (
	"strings"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/genkeep.toml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidFields(t *testing.T) {
	cases := map[string]string{
		"policy":    "[watchdog]\npolicy = \"append\"\n",
		"probe":     "[watchdog]\nprobe = \"pid\"\n",
		"lease":     "[lease]\nbackend = \"wakelock\"\n",
		"power":     "[power]\nbackend = \"battery\"\n",
		"level":     "[log.slog]\nlevel = \"loud\"\n",
		"interval":  "[watchdog]\ninterval = \"-1m\"\n",
		"heartbeat": "[runner]\nheartbeat_interval = \"0s\"\n",
		"dsn":       "[store]\ndsn = \"\"\n",
		"listen":    "[server]\nenabled = true\nlisten = \"\"\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeTOML(t, data)); err == nil {
				t.Fatalf("expected validation error for %s", name)
			}
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Watchdog.Policy = "bogus"
	cfg.Lease.Backend = "bogus"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "watchdog.policy") || !strings.Contains(err.Error(), "lease.backend") {
		t.Fatalf("expected both errors, got %v", err)
	}
}

func TestLoadMalformedTOML(t *testing.T) {
	if _, err := Load(writeTOML(t, "[watchdog\ninterval = ")); err == nil {
		t.Fatal("expected parse error")
	}
}

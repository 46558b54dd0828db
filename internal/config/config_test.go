package config

import "testing"

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.MatchRadiusKm != 5 {
		t.Fatalf("unexpected radius %f", cfg.MatchRadiusKm)
	}
	if cfg.KafkaLocationTopic != "driver-locations" || cfg.KafkaMovementTopic != "ride-movement" {
		t.Fatalf("unexpected topics %q %q", cfg.KafkaLocationTopic, cfg.KafkaMovementTopic)
	}
}

func TestLoadServerConfigOverridesAndErrors(t *testing.T) {
	t.Setenv("MATCH_RADIUS_KM", "2.5")
	t.Setenv("FARE_BASE_CENTS", "750")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MatchRadiusKm != 2.5 || cfg.FareCents != 750 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	t.Setenv("GEOCODE_TIMEOUT", "not-a-duration")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

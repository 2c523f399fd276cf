package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.ID = "clone-1"
	cfg.Domain = "example.org"
	cfg.DataDir = "."
	return cfg
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := validConfig()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidateRejectsMissingIdentity(t *testing.T) {
	cfg := validConfig()
	cfg.ID = ""
	cfg.Domain = ""

	errs := cfg.Validate()
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"

	errs := cfg.Validate()
	found := false
	for _, e := range errs {
		if strings.Contains(e.Error(), "logLevel") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a logLevel error, got %v", errs)
	}
}

func TestValidateRejectsWebsocketWithoutGatewayURL(t *testing.T) {
	cfg := validConfig()
	cfg.Remotes.Transport = "websocket"

	errs := cfg.Validate()
	found := false
	for _, e := range errs {
		if strings.Contains(e.Error(), "gateway_url") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a gateway_url error, got %v", errs)
	}
}

func TestValidateRejectsNegativeMaxOperationSize(t *testing.T) {
	cfg := validConfig()
	cfg.MaxOperationSize = -1

	errs := cfg.Validate()
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(errs), errs)
	}
}

func TestValidateRequiresStatutoryVerifyKeyWhenSubjectsSet(t *testing.T) {
	cfg := validConfig()
	cfg.Security.StatutorySubjects = []string{"https://example.org/policy"}

	errs := cfg.Validate()
	found := false
	for _, e := range errs {
		if strings.Contains(e.Error(), "statutory_verify_key") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a statutory_verify_key error, got %v", errs)
	}

	cfg.Security.StatutoryVerifyKey = "/tmp/statutory.pem"
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("expected no errors once the verify key is set, got %v", errs)
	}
}

package main

import (
	"testing"

	"bodega/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	for _, pin := range []string{"123", "123456", "987654", "777777"} {
		if err := validateSecurityConfig(config.Config{ManagerPIN: pin}); err == nil {
			t.Fatalf("expected weak PIN %q to be rejected", pin)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{ManagerPIN: "739154"}); err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigAllowsMissingPIN(t *testing.T) {
	if err := validateSecurityConfig(config.Config{}); err != nil {
		t.Fatalf("expected an unset PIN to pass, got %v", err)
	}
}

package cmd

import "testing"

func TestValidateAddr(t *testing.T) {
	valid := []string{":8080", "127.0.0.1:3400", "localhost:9000", "[::1]:8080"}
	for _, addr := range valid {
		if err := validateAddr(addr); err != nil {
			t.Errorf("validateAddr(%q) = %v, want nil", addr, err)
		}
	}

	invalid := []string{"", "8080", "localhost", "localhost:notaport", "host with space:80", "localhost:0"}
	for _, addr := range invalid {
		if err := validateAddr(addr); err == nil {
			t.Errorf("validateAddr(%q) = nil, want error", addr)
		}
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	orig := logLevelFlag
	defer func() { logLevelFlag = orig }()

	logLevelFlag = "verbose"
	if _, err := newLogger(); err == nil {
		t.Fatal("unknown level should fail")
	}

	logLevelFlag = "debug"
	if _, err := newLogger(); err != nil {
		t.Fatalf("newLogger: %v", err)
	}
}

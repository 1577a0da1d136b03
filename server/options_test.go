package server

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestWithDriver(t *testing.T) {
	tempDir := t.TempDir()
	driver, err := NewFSDriver(tempDir)
	fatalIfErr(t, err, "NewFSDriver")

	s, err := NewServer(":0", WithDriver(driver))
	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if s.driver == nil {
		t.Error("Driver not set")
	}

	_, err = NewServer(":0",
		WithDriver(driver),
		WithDriver(driver),
	)
	if err == nil {
		t.Error("Expected error when setting driver twice")
	}
}

func TestWithLogger(t *testing.T) {
	tempDir := t.TempDir()
	driver, _ := NewFSDriver(tempDir)

	customLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	s, err := NewServer(":0",
		WithDriver(driver),
		WithLogger(customLogger),
	)
	fatalIfErr(t, err, "NewServer")

	if s.logger != customLogger {
		t.Error("Custom logger not set")
	}
}

func TestWithMaxIdleTime(t *testing.T) {
	tempDir := t.TempDir()
	driver, _ := NewFSDriver(tempDir)

	customTimeout := 10 * time.Minute

	s, err := NewServer(":0",
		WithDriver(driver),
		WithMaxIdleTime(customTimeout),
	)
	fatalIfErr(t, err, "NewServer")

	if s.maxIdleTime != customTimeout {
		t.Errorf("Expected timeout %v, got %v", customTimeout, s.maxIdleTime)
	}
}

func TestWithMaxConnections(t *testing.T) {
	tempDir := t.TempDir()
	driver, _ := NewFSDriver(tempDir)

	s, err := NewServer(":0",
		WithDriver(driver),
		WithMaxConnections(50),
		WithMaxConnectionsPerIP(10),
	)
	fatalIfErr(t, err, "NewServer")

	if s.maxConnections != 50 {
		t.Errorf("Expected max connections 50, got %d", s.maxConnections)
	}
	if s.maxConnectionsPerIP != 10 {
		t.Errorf("Expected max connections per IP 10, got %d", s.maxConnectionsPerIP)
	}

	s2, err := NewServer(":0", WithDriver(driver))
	fatalIfErr(t, err, "NewServer")
	if s2.maxConnections != 0 {
		t.Errorf("Expected max connections 0, got %d", s2.maxConnections)
	}
	if s2.maxConnectionsPerIP != 0 {
		t.Errorf("Expected max connections per IP 0, got %d", s2.maxConnectionsPerIP)
	}
}

func TestNewServer_RequiresDriver(t *testing.T) {
	_, err := NewServer(":0")
	if err == nil {
		t.Error("Expected error when driver is not provided")
	}
}

func TestNewServer_Defaults(t *testing.T) {
	tempDir := t.TempDir()
	driver, _ := NewFSDriver(tempDir)

	s, err := NewServer(":0", WithDriver(driver))
	fatalIfErr(t, err, "NewServer")

	if s.logger == nil {
		t.Error("Default logger not set")
	}
	if s.maxIdleTime != 60*time.Second {
		t.Errorf("Expected default idle time 60s, got %v", s.maxIdleTime)
	}
	if s.maxConnections != 0 {
		t.Errorf("Expected default max connections 0, got %d", s.maxConnections)
	}
	if s.welcomeMessage != "220 FTP Server Ready" {
		t.Errorf("Expected default welcome message '220 FTP Server Ready', got %q", s.welcomeMessage)
	}
	if s.serverName != "UNIX Type: L8" {
		t.Errorf("Expected default server name 'UNIX Type: L8', got %q", s.serverName)
	}
	if s.deflateLevel != 6 {
		t.Errorf("Expected default deflate level 6, got %d", s.deflateLevel)
	}
	if s.readTimeout != 0 {
		t.Errorf("Expected default read timeout 0, got %v", s.readTimeout)
	}
	if s.writeTimeout != 0 {
		t.Errorf("Expected default write timeout 0, got %v", s.writeTimeout)
	}
}

func TestWithWelcomeMessage(t *testing.T) {
	tempDir := t.TempDir()
	driver, _ := NewFSDriver(tempDir)

	s, err := NewServer(":0",
		WithDriver(driver),
		WithWelcomeMessage("220 Welcome to My FTP Server"),
	)
	fatalIfErr(t, err, "NewServer")

	if s.welcomeMessage != "220 Welcome to My FTP Server" {
		t.Errorf("Expected custom welcome message, got %q", s.welcomeMessage)
	}
}

func TestWithServerName(t *testing.T) {
	tempDir := t.TempDir()
	driver, _ := NewFSDriver(tempDir)

	s, err := NewServer(":0",
		WithDriver(driver),
		WithServerName("Windows_NT"),
	)
	fatalIfErr(t, err, "NewServer")

	if s.serverName != "Windows_NT" {
		t.Errorf("Expected server name %q, got %q", "Windows_NT", s.serverName)
	}
}

func TestWithReadTimeout(t *testing.T) {
	tempDir := t.TempDir()
	driver, _ := NewFSDriver(tempDir)

	customTimeout := 30 * time.Second
	s, err := NewServer(":0",
		WithDriver(driver),
		WithReadTimeout(customTimeout),
	)
	fatalIfErr(t, err, "NewServer")

	if s.readTimeout != customTimeout {
		t.Errorf("Expected read timeout %v, got %v", customTimeout, s.readTimeout)
	}
}

func TestWithWriteTimeout(t *testing.T) {
	tempDir := t.TempDir()
	driver, _ := NewFSDriver(tempDir)

	customTimeout := 30 * time.Second
	s, err := NewServer(":0",
		WithDriver(driver),
		WithWriteTimeout(customTimeout),
	)
	fatalIfErr(t, err, "NewServer")

	if s.writeTimeout != customTimeout {
		t.Errorf("Expected write timeout %v, got %v", customTimeout, s.writeTimeout)
	}
}

func TestWithDeflateLevel(t *testing.T) {
	tempDir := t.TempDir()
	driver, _ := NewFSDriver(tempDir)

	if _, err := NewServer(":0", WithDriver(driver), WithDeflateLevel(-1)); err == nil {
		t.Error("Expected error for out-of-range deflate level")
	}

	s, err := NewServer(":0", WithDriver(driver), WithDeflateLevel(9))
	fatalIfErr(t, err, "NewServer")
	if s.deflateLevel != 9 {
		t.Errorf("Expected deflate level 9, got %d", s.deflateLevel)
	}
}

func TestWithPassivePortRange(t *testing.T) {
	tempDir := t.TempDir()
	driver, _ := NewFSDriver(tempDir)

	if _, err := NewServer(":0", WithDriver(driver), WithPassivePortRange(5000, 4000)); err == nil {
		t.Error("Expected error for inverted port range")
	}

	s, err := NewServer(":0", WithDriver(driver), WithPassivePortRange(4000, 4100))
	fatalIfErr(t, err, "NewServer")
	if s.pasvMinPort != 4000 || s.pasvMaxPort != 4100 {
		t.Errorf("Expected port range [4000,4100], got [%d,%d]", s.pasvMinPort, s.pasvMaxPort)
	}
}

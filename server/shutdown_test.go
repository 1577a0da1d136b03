package server

import (
	"io"
	"net"
	"os"
	"testing"
	"time"
)

// TestServer_Shutdown verifies that Shutdown stops the server and closes
// connections.
func TestServer_Shutdown(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	driver, err := NewFSDriver(rootDir)
	fatalIfErr(t, err, "NewFSDriver")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	fatalIfErr(t, err, "Listen")
	addr := ln.Addr().String()

	srv, err := NewServer(addr, WithDriver(driver))
	fatalIfErr(t, err, "NewServer")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	c, err := dialTestClient(addr)
	fatalIfErr(t, err, "dialTestClient")
	fatalIfErr(t, c.Login("anonymous", "anonymous"), "Login")

	fatalIfErr(t, srv.Shutdown(), "Shutdown")

	select {
	case err := <-errCh:
		if err != ErrServerClosed {
			t.Errorf("Expected ErrServerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Serve did not return after Shutdown")
	}

	if _, _, err := c.cmd("PWD"); err == nil {
		t.Error("Client command succeeded after server shutdown")
	}
	c.Close()
}

// blockingFile blocks on Read until Close is called, modeling a stuck
// data transfer for the Shutdown-kills-data-connections test below.
type blockingFile struct {
	read chan struct{}
}

func (f *blockingFile) Read(p []byte) (n int, err error) {
	<-f.read
	return 0, io.EOF
}

func (f *blockingFile) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func (f *blockingFile) Close() error {
	close(f.read)
	return nil
}

// blockingContext wraps a ClientContext so that OpenFile("/blocking.txt", ...)
// returns a file that blocks on read, letting the test hold a transfer open.
type blockingContext struct {
	ClientContext
}

func (c *blockingContext) OpenFile(path string, flag int) (io.ReadWriteCloser, error) {
	if path == "/blocking.txt" {
		return &blockingFile{read: make(chan struct{})}, nil
	}
	return c.ClientContext.OpenFile(path, flag)
}

type blockingDriver struct {
	*FSDriver
}

func (d *blockingDriver) Authenticate(user, pass, host string) (ClientContext, error) {
	ctx, err := d.FSDriver.Authenticate(user, pass, host)
	if err != nil {
		return nil, err
	}
	return &blockingContext{ClientContext: ctx}, nil
}

func TestServer_Shutdown_DataConn(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	fatalIfErr(t, os.WriteFile(rootDir+"/blocking.txt", []byte("x"), 0644), "WriteFile")

	baseDriver, err := NewFSDriver(rootDir)
	fatalIfErr(t, err, "NewFSDriver")
	driver := &blockingDriver{FSDriver: baseDriver}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	fatalIfErr(t, err, "Listen")
	addr := ln.Addr().String()

	srv, err := NewServer(addr, WithDriver(driver))
	fatalIfErr(t, err, "NewServer")

	go func() { _ = srv.Serve(ln) }()

	c, err := dialTestClient(addr)
	fatalIfErr(t, err, "dialTestClient")
	defer c.Close()
	fatalIfErr(t, c.Login("anonymous", "anonymous"), "Login")

	done := make(chan error, 1)
	go func() {
		_, err := c.Retrieve("blocking.txt")
		done <- err
	}()

	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	fatalIfErr(t, srv.Shutdown(), "Shutdown")

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Retrieve, got nil")
		} else {
			t.Logf("Retrieve failed as expected: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retrieve blocked indefinitely; Shutdown did not kill the data connection")
	}

	if time.Since(start) > time.Second {
		t.Error("Shutdown took too long, maybe blocked on connection close")
	}
}

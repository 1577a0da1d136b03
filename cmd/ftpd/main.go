// Command ftpd runs the FTP server over a local directory.
package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gonzalop/goftpd/server"
)

func main() {
	var (
		addr       = flag.String("addr", ":2121", "address to listen on")
		root       = flag.String("root", filepath.Join(os.TempDir(), "ftpd"), "directory to serve")
		configPath = flag.String("config", "ftpd.conf", "path to the SITE-managed config file")
		anonWrite  = flag.Bool("anon-write", false, "allow anonymous users to write")
		pasvMin    = flag.Int("pasv-min", 0, "minimum passive port (0 = OS-assigned)")
		pasvMax    = flag.Int("pasv-max", 0, "maximum passive port (0 = OS-assigned)")
		publicHost = flag.String("public-host", "", "public host/IP advertised in PASV replies")
		maxConns   = flag.Int("max-conns", 0, "maximum concurrent connections (0 = unlimited)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(*root, 0755); err != nil {
		logger.Error("create root directory", "error", err, "root", *root)
		os.Exit(1)
	}

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		logger.Error("load config", "error", err, "path", *configPath)
		os.Exit(1)
	}

	driverOpts := []server.FSDriverOption{
		server.WithAnonWrite(*anonWrite),
		server.WithAuthConfig(cfg),
	}
	if *pasvMin != 0 || *pasvMax != 0 || *publicHost != "" {
		driverOpts = append(driverOpts, server.WithSettings(&server.Settings{
			PublicHost:  *publicHost,
			PasvMinPort: *pasvMin,
			PasvMaxPort: *pasvMax,
		}))
	}

	driver, err := server.NewFSDriver(*root, driverOpts...)
	if err != nil {
		logger.Error("create driver", "error", err)
		os.Exit(1)
	}

	srvOpts := []server.Option{
		server.WithDriver(driver),
		server.WithLogger(logger),
		server.WithConfig(cfg),
		server.WithDeflateLevel(cfg.DeflateLevel),
	}
	if *maxConns > 0 {
		srvOpts = append(srvOpts, server.WithMaxConnections(*maxConns))
	}

	srv, err := server.NewServer(*addr, srvOpts...)
	if err != nil {
		logger.Error("create server", "error", err)
		os.Exit(1)
	}

	logger.Info("starting ftp server", "addr", *addr, "root", *root)
	if err := srv.ListenAndServe(); err != nil && err != server.ErrServerClosed {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}

package server

// Predefined command groups for use with WithDisableCommands.
//
// Example usage:
//
//	// Create a read-only server
//	srv, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithDisableCommands(server.WriteCommands...),
//	)
var (
	// LegacyCommands contains the deprecated X* command aliases from
	// RFC 775: XCWD, XCUP, XPWD, XMKD, XRMD.
	LegacyCommands = []string{
		"XCWD",
		"XCUP",
		"XPWD",
		"XMKD",
		"XRMD",
	}

	// ActiveModeCommands contains commands that set up active-mode data
	// connections: PORT, EPRT.
	ActiveModeCommands = []string{
		"PORT",
		"EPRT",
	}

	// WriteCommands contains every command that modifies the filesystem.
	// Disable these to build a read-only distribution server. For
	// per-user read-only access instead, return readOnly=true from the
	// FSDriver's authenticator.
	WriteCommands = []string{
		"STOR",
		"APPE",
		"STOU",
		"DELE",
		"RMD",
		"XRMD",
		"MKD",
		"XMKD",
		"RNFR",
		"RNTO",
	}

	// SiteCommands contains the SITE administrative command.
	SiteCommands = []string{
		"SITE",
	}
)

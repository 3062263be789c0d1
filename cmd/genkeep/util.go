package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/loykin/genkeep"
	"github.com/loykin/genkeep/pkg/client"
)

// apiURL picks the daemon URL: the explicit flag, else the server section of
// the config file, else the client default.
func apiURL(f *GlobalFlags) (string, error) {
	if f.APIUrl != "" {
		return f.APIUrl, nil
	}
	if f.ConfigPath == "" {
		return client.DefaultConfig().BaseURL, nil
	}
	cfg, err := genkeep.LoadConfig(f.ConfigPath)
	if err != nil {
		return "", fmt.Errorf("error loading config: %w", err)
	}
	host, port, err := net.SplitHostPort(cfg.Server.Listen)
	if err != nil {
		return "", fmt.Errorf("server.listen %q: %w", cfg.Server.Listen, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + cfg.Server.BasePath, nil
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

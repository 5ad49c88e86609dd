// Package useragent extracts the device metadata recorded on sessions.
package useragent

import (
	"strings"

	ua "github.com/mssola/useragent"
)

// Device describes the client that opened a session.
type Device struct {
	Name    string
	Browser string
	OS      string
	Mobile  bool
}

// Parse derives device metadata from a User-Agent header.
func Parse(header string) Device {
	header = strings.TrimSpace(header)
	if header == "" {
		return Device{Name: "Unknown device", Browser: "unknown", OS: "unknown"}
	}

	agent := ua.New(header)
	browser, version := agent.Browser()
	if browser == "" {
		browser = "unknown"
	} else if version != "" {
		browser = browser + " " + majorVersion(version)
	}
	os := agent.OS()
	if os == "" {
		os = "unknown"
	}

	kind := "Desktop"
	switch {
	case agent.Bot():
		kind = "Bot"
	case agent.Mobile():
		kind = "Mobile"
	}

	return Device{
		Name:    kind + " - " + browser,
		Browser: browser,
		OS:      os,
		Mobile:  agent.Mobile(),
	}
}

func majorVersion(v string) string {
	if i := strings.IndexByte(v, '.'); i > 0 {
		return v[:i]
	}
	return v
}

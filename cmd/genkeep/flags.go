package main

import "time"

// GlobalFlags holds the persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// ProgressFlags decouple cobra from the progress command for testing.
// The *Set fields record which flags were given explicitly.
type ProgressFlags struct {
	Title       string
	Body        string
	Progress    int
	TitleSet    bool
	BodySet     bool
	ProgressSet bool
}

type ServeFlags struct {
	ConfigPath string
	NoWatch    bool
}

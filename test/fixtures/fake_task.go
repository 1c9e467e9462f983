// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Behavior is how a fake task reacts to signals.
type Behavior string

const (
	// Graceful exits on SIGINT.
	Graceful Behavior = "graceful"
	// Stubborn records SIGINT and keeps running; SIGTERM stops it.
	Stubborn Behavior = "stubborn"
	// Immortal records SIGINT and SIGTERM and keeps running; only SIGKILL stops it.
	Immortal Behavior = "immortal"
)

var traps = map[Behavior]string{
	Graceful: `trap 'echo INT >> "$1"; exit 0' INT`,
	Stubborn: `trap 'echo INT >> "$1"' INT`,
	Immortal: `trap 'echo INT >> "$1"' INT
trap 'echo TERM >> "$1"' TERM`,
}

// FakeTasks writes long-running shell scripts standing in for user
// commands such as backups or media encoders.
type FakeTasks struct {
	Dir string
}

// NewFakeTasks creates a generator writing into dir.
func NewFakeTasks(dir string) *FakeTasks {
	return &FakeTasks{Dir: dir}
}

// Create writes an executable script named name and returns the command
// line that runs it. The script appends START then every trapped signal
// to its marker file.
func (f *FakeTasks) Create(name string, b Behavior) (string, error) {
	trap, ok := traps[b]
	if !ok {
		return "", fmt.Errorf("unknown behavior %q", b)
	}
	script := filepath.Join(f.Dir, name+".sh")
	body := fmt.Sprintf(`#!/bin/sh
%s
echo START >> "$1"
while true; do sleep 0.1; done
`, trap)
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		return "", err
	}
	return script + " " + f.Marker(name), nil
}

// Marker returns the marker file path for name.
func (f *FakeTasks) Marker(name string) string {
	return filepath.Join(f.Dir, name+".log")
}

// Events returns the lines written to name's marker file so far.
// Every running instance appends to the same file.
func (f *FakeTasks) Events(name string) []string {
	data, err := os.ReadFile(f.Marker(name))
	if err != nil {
		return nil
	}
	return strings.Fields(string(data))
}

// Count returns how many times event appears for name.
func (f *FakeTasks) Count(name, event string) int {
	n := 0
	for _, e := range f.Events(name) {
		if e == event {
			n++
		}
	}
	return n
}

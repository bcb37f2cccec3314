package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocelix/gocelix/pkg/bundle"
)

// diskArchive is a minimal bundle.Archive backed by a directory: a
// "manifest" file of "Key: Value" lines plus arbitrary entry files read
// relative to the directory root.
type diskArchive struct {
	location string
	manifest map[string]string
}

func newDiskArchive(location string) (*diskArchive, error) {
	f, err := os.Open(filepath.Join(location, "manifest"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	manifest := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		manifest[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &diskArchive{location: location, manifest: manifest}, nil
}

func (a *diskArchive) ID() uint64 { return 0 }

func (a *diskArchive) Location() string { return a.location }

func (a *diskArchive) Manifest() map[string]string { return a.manifest }

func (a *diskArchive) OpenEntry(path string) ([]byte, bool) {
	data, err := os.ReadFile(filepath.Join(a.location, path))
	if err != nil {
		return nil, false
	}
	return data, true
}

var _ bundle.Archive = (*diskArchive)(nil)

// Package seed optionally pre-populates the subscriptions table in
// dev/test environments from a YAML file, so a fresh environment has rows
// to schedule against without a manual INSERT. Never used in production;
// runtime tunables still come exclusively from the environment per
// spec.md §6.
package seed

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/louisb0/talos/internal/domain"
)

// Entry is one YAML-declared subscription seed row.
type Entry struct {
	Community            string `yaml:"community"`
	ScanIntervalSeconds   int    `yaml:"scan_interval_seconds"`
}

// file is the top-level shape of a seed file.
type file struct {
	Subscriptions []Entry `yaml:"subscriptions"`
}

// Load reads and parses a seed file, returning the Subscription rows to
// insert. Returns (nil, nil) if path is empty.
func Load(path string) ([]domain.Subscription, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=seed.Load.read: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("op=seed.Load.unmarshal: %w", err)
	}
	out := make([]domain.Subscription, 0, len(f.Subscriptions))
	for _, e := range f.Subscriptions {
		interval := e.ScanIntervalSeconds
		if interval <= 0 {
			interval = 3600
		}
		out = append(out, domain.Subscription{
			CommunityName:      e.Community,
			IsSubscribed:       true,
			ScanIntervalSeconds: interval,
			IsCurrentlyQueued:  false,
		})
	}
	return out, nil
}

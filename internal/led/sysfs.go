package led

import (
	"fmt"
	"os"
	"path/filepath"
)

const sysfsLEDPath = "/sys/class/leds"

// sysfs drives /sys/class/leds/<name> through its trigger and brightness
// attributes.
type sysfs struct {
	root string
	name string
}

func newSysfs(root, name string) *sysfs {
	if root == "" {
		root = sysfsLEDPath
	}
	return &sysfs{root: root, name: name}
}

func (s *sysfs) Name() string { return s.name }

func (s *sysfs) Set(p Pattern) error {
	dir := filepath.Join(s.root, s.name)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("LED %q: %w", s.name, err)
	}

	trigger, brightness := "none", "0"
	switch p {
	case PatternSolid:
		brightness = "1"
	case PatternBlink:
		trigger, brightness = "heartbeat", "1"
	case PatternOff:
	default:
		return fmt.Errorf("unknown LED pattern %q", p)
	}

	if err := os.WriteFile(filepath.Join(dir, "trigger"), []byte(trigger), 0o644); err != nil {
		return fmt.Errorf("set LED trigger: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "brightness"), []byte(brightness), 0o644); err != nil {
		return fmt.Errorf("set LED brightness: %w", err)
	}
	return nil
}

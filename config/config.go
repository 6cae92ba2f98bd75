// Package config loads cmd/mkcore's boot configuration from YAML,
// following biscuit's convention of keeping host-tool
// configuration in a small declarative file rather than a pile of
// flags (biscuit's own build tooling is driven the same way, via
// make.sh variables externalized from the Go build itself; here
// gopkg.in/yaml.v3 gives that the same role for a single Go binary).
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config describes one kcore image: its backing files and sizing.
type Config struct {
	FSImage    string `yaml:"fs_image"`
	FSSectors  uint32 `yaml:"fs_sectors"`
	SwapImage  string `yaml:"swap_image"`
	SwapPages  uint32 `yaml:"swap_pages"`
	CacheSize  int    `yaml:"cache_size"`
	Frames     int    `yaml:"frames"`
	Readahead  bool   `yaml:"readahead"`
	FlushCron  string `yaml:"flush_cron"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns sensible sizes for a demo run.
func Default() Config {
	return Config{
		FSImage:     "kcore-fs.img",
		FSSectors:   8192,
		SwapImage:   "kcore-swap.img",
		SwapPages:   512,
		CacheSize:   64,
		Frames:      256,
		Readahead:   false,
		FlushCron:   "@every 5s",
		MetricsAddr: "",
	}
}

// Load reads and parses a YAML config file on top of Default: a field
// the file omits keeps its Default value, while a field the file sets,
// even to a zero value, is taken as written.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, errors.Wrapf(err, "config: parse %s", path)
	}
	return c, nil
}

// Package config loads pmftest settings from a YAML file, PMFTEST_
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/awilliams/hwsim-pmf/internal/harness"
)

const (
	// EnvPrefix is prepended to every environment variable,
	// e.g. PMFTEST_MQTT_ADDR.
	EnvPrefix = "PMFTEST"
	// FileName is the config file searched for when none is given.
	FileName = "pmftest"

	defaultMQTTPrefix = "pmftest"
)

// MQTT holds the result bus settings. Publishing is disabled when Addr
// is blank.
type MQTT struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// Config is the effective pmftest configuration.
type Config struct {
	Topology harness.Topology `mapstructure:"topology" yaml:"topology"`
	MQTT     MQTT             `mapstructure:"mqtt" yaml:"mqtt"`

	// Run names this run on the result bus.
	Run string `mapstructure:"run" yaml:"run"`
	// Timeout applies to tests that do not set their own.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Verbose bool          `mapstructure:"verbose" yaml:"verbose"`
}

// New returns a viper instance with every default set and environment
// lookup enabled. Flags are bound onto it by the caller.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	t := harness.DefaultTopology()
	v.SetDefault("topology.stations", t.Stations)
	v.SetDefault("topology.aps", t.APs)
	v.SetDefault("topology.supplicant_ctrl_dir", t.SupplicantCtrlDir)
	v.SetDefault("topology.hostapd_global", t.HostapdGlobal)
	v.SetDefault("topology.hostapd_ctrl_dir", t.HostapdCtrlDir)
	v.SetDefault("topology.local_dir", t.LocalDir)
	v.SetDefault("topology.wpas_ap", t.WpasAP)
	v.SetDefault("topology.wpas_ap_global", t.WpasAPGlobal)
	v.SetDefault("topology.wlantest_cli", t.WlantestCLI)
	v.SetDefault("topology.wlantest_socket", t.WlantestSocket)
	v.SetDefault("topology.debugfs", t.Debugfs)
	v.SetDefault("topology.monitor_freq", t.MonitorFreq)

	v.SetDefault("mqtt.addr", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.prefix", defaultMQTTPrefix)

	v.SetDefault("run", "")
	v.SetDefault("timeout", harness.DefaultTimeout)
	v.SetDefault("verbose", false)
}

// Load reads path, or pmftest.yaml from the working directory or
// /etc/pmftest when path is blank, and decodes the merged settings. A
// missing default file is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	var c Config

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pmftest")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return c, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return c, c.Validate()
}

// Validate checks the settings a run cannot do without.
func (c Config) Validate() error {
	switch {
	case len(c.Topology.Stations) == 0:
		return errors.New("topology.stations cannot be blank")
	case len(c.Topology.APs) == 0:
		return errors.New("topology.aps cannot be blank")
	case c.Topology.HostapdGlobal == "":
		return errors.New("topology.hostapd_global cannot be blank")
	case c.Timeout <= 0:
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	case c.MQTT.Addr != "" && c.MQTT.Prefix == "":
		return errors.New("mqtt.prefix cannot be blank")
	}
	for i, ap := range c.Topology.APs {
		if ap.Ifname == "" {
			return fmt.Errorf("topology.aps[%d].ifname cannot be blank", i)
		}
	}
	return nil
}

// Dump writes c as YAML.
func Dump(w io.Writer, c Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

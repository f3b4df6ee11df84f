package config

// ini.go - sockproxyd INI config file loading.
//
// Spec §6: sections [host] (keys ip, port, vera, log, debug) and
// [direct] (keys are decimal port numbers; values are whole CONN
// lines), plus this repository's supplemental [via] section (short
// name -> gateway spec). Comments start with ';'; section names and
// keys are lower-cased. Precedence is positional (§6, cmd/root.go):
// this file only overlays whatever has been set so far onto cfg, it
// never resets fields the caller hasn't touched.

import (
	"fmt"
	"strconv"

	ini "gopkg.in/ini.v1"
)

// LoadFile overlays the INI file at path onto cfg. Only keys present
// in the file are applied; anything absent leaves cfg's current value
// untouched, so a later or earlier CLI flag at the same argv position
// keeps behaving per spec §6's "argv overrides file when listed after
// -c, and vice versa" rule.
func LoadFile(cfg *Config, path string) error {
	f, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment: true,
		Insensitive:         true,
	}, path)
	if err != nil {
		return fmt.Errorf("reading config %q: %w", path, err)
	}

	if host := f.Section("host"); host != nil {
		if v := host.Key("ip").String(); v != "" {
			cfg.BindAddr = v
		}
		if v := host.Key("port").String(); v != "" {
			p, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config %q: [host] port %q is not an integer", path, v)
			}
			cfg.Port = p
		}
		if v := host.Key("vera").String(); v != "" {
			cfg.ControllerURL = v
		}
		if v := host.Key("log").String(); v != "" {
			cfg.LogFile = v
		}
		if host.HasKey("debug") {
			b, err := host.Key("debug").Bool()
			if err != nil {
				return fmt.Errorf("config %q: [host] debug %q is not a boolean", path, host.Key("debug").String())
			}
			cfg.Debug = b
		}
		if host.HasKey("gateway_timeout") {
			t, err := host.Key("gateway_timeout").Int()
			if err != nil {
				return fmt.Errorf("config %q: [host] gateway_timeout %q is not an integer", path, host.Key("gateway_timeout").String())
			}
			cfg.GatewayTimeoutS = t
		}
	}

	if direct := f.Section("direct"); direct != nil {
		for _, key := range direct.Keys() {
			port, err := strconv.Atoi(key.Name())
			if err != nil {
				return fmt.Errorf("config %q: [direct] key %q is not a port number", path, key.Name())
			}
			cfg.DirectListeners[port] = key.String()
		}
	}

	if via := f.Section("via"); via != nil {
		for _, key := range via.Keys() {
			cfg.ViaAliases[key.Name()] = key.String()
		}
	}

	cfg.ConfigFile = path
	return nil
}

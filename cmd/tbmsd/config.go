package main

import (
	"time"

	"gopkg.in/ini.v1"

	"github.com/evbms/tbms"
)

// daemonConfig is the on-disk configuration for the example daemon: the
// transport and HTTP settings the core driver has no opinion about,
// plus overrides for the core's own tunables.
type daemonConfig struct {
	Device   string
	HTTPAddr string

	Core tbms.Config
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Device:   "",
		HTTPAddr: ":8980",
		Core:     tbms.DefaultConfig(),
	}
}

// loadDaemonConfig reads an INI file, falling back to factory defaults
// for any section or key left unset.
func loadDaemonConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return cfg, err
	}

	link := f.Section("link")
	cfg.Device = link.Key("device").MustString(cfg.Device)

	http := f.Section("http")
	cfg.HTTPAddr = http.Key("addr").MustString(cfg.HTTPAddr)

	core := f.Section("core")
	if v := core.Key("timeout_ms").MustInt(0); v > 0 {
		cfg.Core.Timeout = time.Duration(v) * time.Millisecond
	}
	cfg.Core.BalanceVoltage = float32(core.Key("balance_voltage").MustFloat64(float64(cfg.Core.BalanceVoltage)))
	cfg.Core.BalanceHysteresis = float32(core.Key("balance_hysteresis").MustFloat64(float64(cfg.Core.BalanceHysteresis)))
	if v := core.Key("sweep_interval_ms").MustInt(0); v > 0 {
		cfg.Core.SweepInterval = time.Duration(v) * time.Millisecond
	}

	return cfg, nil
}

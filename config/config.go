/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads and validates the YAML configuration record consumed
// by the discipline loop (spec §6).
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Clock holds the initial virtual-clock seeding.
type Clock struct {
	InitialUTC time.Time `yaml:"initial_utc"`
}

// UI holds hints for observers.
type UI struct {
	RefreshIntervalMillis int `yaml:"refresh_interval_millis"`
}

// NTP holds the sampler/scheduling configuration.
type NTP struct {
	Servers               []string `yaml:"servers"`
	SyncIntervalMinSecs   int      `yaml:"sync_interval_min_secs"`
	SyncIntervalMaxSecs   int      `yaml:"sync_interval_max_secs"`
	RequestTimeoutMillis  int      `yaml:"request_timeout_millis"`
}

// Kalman holds the filter tunables of spec §6.
type Kalman struct {
	InitialUncertaintyOffset float64 `yaml:"initial_uncertainty_offset"`
	InitialUncertaintyDrift  float64 `yaml:"initial_uncertainty_drift"`
	DelayToRFactor           float64 `yaml:"delay_to_r_factor"`
	RFloor                   float64 `yaml:"r_floor"`
	QInit                    float64 `yaml:"q_init"`
	QMin                     float64 `yaml:"q_min"`
	QMax                     float64 `yaml:"q_max"`
	QGrow                    float64 `yaml:"q_grow"`
	QShrink                  float64 `yaml:"q_shrink"`
	NISLow                   float64 `yaml:"nis_low"`
	NISHigh                  float64 `yaml:"nis_high"`
	NISAlpha                 float64 `yaml:"nis_alpha"`
	OutlierSigma             float64 `yaml:"outlier_sigma"`
	HardResyncThresholdSecs  float64 `yaml:"hard_resync_threshold_secs"`
}

// Config is the full configuration record of spec §6.
type Config struct {
	Clock  Clock  `yaml:"clock"`
	UI     UI     `yaml:"ui"`
	NTP    NTP    `yaml:"ntp"`
	Kalman Kalman `yaml:"kalman"`
}

// Default returns a Config seeded with the defaults discussed in spec §4.D
// and §4.E, for fields a deployment does not need to override.
func Default() Config {
	return Config{
		UI: UI{RefreshIntervalMillis: 1000},
		NTP: NTP{
			SyncIntervalMinSecs:  4,
			SyncIntervalMaxSecs:  1024,
			RequestTimeoutMillis: 1000,
		},
		Kalman: Kalman{
			InitialUncertaintyOffset: 1.0,
			InitialUncertaintyDrift:  1e-4,
			DelayToRFactor:           1.0,
			RFloor:                   1e-9,
			QInit:                    1e-12,
			QMin:                     1e-14,
			QMax:                     1e-6,
			QGrow:                    2.0,
			QShrink:                  0.5,
			NISLow:                   0.1,
			NISHigh:                  3.8,
			NISAlpha:                 0.1,
			OutlierSigma:             6.0,
			HardResyncThresholdSecs:  1.0,
		},
	}
}

// ReadConfig reads and unmarshals the YAML config at path, layering it over
// Default so an operator only has to specify overrides.
func ReadConfig(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every fatal-at-start condition of spec §7: invalid
// initial UTC, empty server list, and nonsensical Kalman parameters.
func (c *Config) Validate() error {
	if c.Clock.InitialUTC.IsZero() {
		return fmt.Errorf("bad config: 'clock.initial_utc' is required")
	}
	if len(c.NTP.Servers) == 0 {
		return fmt.Errorf("bad config: 'ntp.servers' must not be empty")
	}
	if c.NTP.SyncIntervalMinSecs <= 0 {
		return fmt.Errorf("bad config: 'ntp.sync_interval_min_secs' must be >0")
	}
	if c.NTP.SyncIntervalMaxSecs < c.NTP.SyncIntervalMinSecs {
		return fmt.Errorf("bad config: 'ntp.sync_interval_max_secs' must be >= sync_interval_min_secs")
	}
	if c.NTP.RequestTimeoutMillis <= 0 {
		return fmt.Errorf("bad config: 'ntp.request_timeout_millis' must be >0")
	}

	k := c.Kalman
	if k.RFloor <= 0 {
		return fmt.Errorf("bad config: 'kalman.r_floor' must be >0")
	}
	if k.QMin <= 0 {
		return fmt.Errorf("bad config: 'kalman.q_min' must be >0")
	}
	if k.QMin > k.QMax {
		return fmt.Errorf("bad config: 'kalman.q_min' must be <= 'kalman.q_max'")
	}
	if k.QInit < k.QMin || k.QInit > k.QMax {
		return fmt.Errorf("bad config: 'kalman.q_init' must be within [q_min, q_max]")
	}
	if k.QGrow <= 1 {
		return fmt.Errorf("bad config: 'kalman.q_grow' must be >1")
	}
	if k.QShrink <= 0 || k.QShrink >= 1 {
		return fmt.Errorf("bad config: 'kalman.q_shrink' must be in (0,1)")
	}
	if k.NISLow <= 0 || k.NISLow >= k.NISHigh {
		return fmt.Errorf("bad config: 'kalman.nis_low' must be >0 and < nis_high")
	}
	if k.NISAlpha <= 0 || k.NISAlpha > 1 {
		return fmt.Errorf("bad config: 'kalman.nis_alpha' must be in (0,1]")
	}
	if k.OutlierSigma <= 0 {
		return fmt.Errorf("bad config: 'kalman.outlier_sigma' must be >0")
	}
	if k.HardResyncThresholdSecs <= 0 {
		return fmt.Errorf("bad config: 'kalman.hard_resync_threshold_secs' must be >0")
	}
	if k.InitialUncertaintyOffset <= 0 || k.InitialUncertaintyDrift <= 0 {
		return fmt.Errorf("bad config: 'kalman.initial_uncertainty*' must be >0")
	}
	if k.DelayToRFactor < 0 {
		return fmt.Errorf("bad config: 'kalman.delay_to_r_factor' must be >=0")
	}

	return nil
}

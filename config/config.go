// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package config loads table and worker settings from file and environment.
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/mergetree/planner"
)

// TableConfig aggregates the tunables one table's compaction loop needs.
type TableConfig struct {
	DataPath   string         `mapstructure:"data_path"`
	Selection  planner.Settings `mapstructure:"selection"`
	Worker     WorkerConfig   `mapstructure:"worker"`
}

// WorkerConfig controls how many worker goroutines drive selectAndMerge and
// how they pace themselves when nothing is selectable.
type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	IdleInterval   time.Duration `mapstructure:"idle_interval"`
	LargePartRows  int64         `mapstructure:"large_part_rows"`
	SnapshotWindow int           `mapstructure:"snapshot_window"`
}

func defaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:    4,
		IdleInterval:   time.Second,
		LargePartRows:  100_000_000,
		SnapshotWindow: 4096,
	}
}

// Load reads configuration from ./config.yaml (if present) and environment
// variables. Environment variables use the "MERGETREE" prefix; dots in keys
// become underscores, so "worker.concurrency" is "MERGETREE_WORKER_CONCURRENCY".
func Load() (*TableConfig, error) {
	cfg := &TableConfig{
		DataPath:  ".",
		Selection: planner.DefaultSettings(),
		Worker:    defaultWorkerConfig(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("MERGETREE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers every field path in cfg so viper resolves the matching
// environment variable even when no config file sets it.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}

// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration for the recommender.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Recommend RecommendConfig `mapstructure:"recommend"`
}

// DatabaseConfig is the configuration for the rating store and the result cache.
type DatabaseConfig struct {
	DataStore   string `mapstructure:"data_store" validate:"required,data_store"`
	CacheStore  string `mapstructure:"cache_store" validate:"required,cache_store"`
	TablePrefix string      `mapstructure:"table_prefix"`
	MySQL       MySQLConfig `mapstructure:"mysql"`
}

// MySQLConfig holds connection settings. Pool limits apply to every SQL store, MongoDB and Redis.
type MySQLConfig struct {
	IsolationLevel  string        `mapstructure:"isolation_level" validate:"oneof=READ-UNCOMMITTED READ-COMMITTED REPEATABLE-READ SERIALIZABLE"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// RecommendConfig holds the defaults of a recommendation request and the cache policy.
type RecommendConfig struct {
	TopN            int           `mapstructure:"top_n" validate:"gt=0"`
	NumFactors      int           `mapstructure:"num_factors" validate:"gt=0"`
	MinPredicted    float64       `mapstructure:"min_predicted"`
	MinRatings      int           `mapstructure:"min_ratings" validate:"gte=1"`
	RatingMin       float64       `mapstructure:"rating_min" validate:"gte=1"`
	RatingMax       float64       `mapstructure:"rating_max" validate:"lte=10,gtfield=RatingMin"`
	PersonalizedTTL time.Duration `mapstructure:"personalized_ttl" validate:"gt=0"`
	ColdStartTTL    time.Duration `mapstructure:"cold_start_ttl" validate:"gt=0,ltefield=PersonalizedTTL"`
	FallbackFilter  string        `mapstructure:"fallback_filter"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataStore:  "sqlite://data.db",
			CacheStore: "sqlite://cache.db",
			MySQL: MySQLConfig{
				IsolationLevel: "READ-COMMITTED",
			},
		},
		Recommend: RecommendConfig{
			TopN:            1000,
			NumFactors:      8,
			MinPredicted:    6.5,
			MinRatings:      3,
			RatingMin:       1.0,
			RatingMax:       10.0,
			PersonalizedTTL: 60 * time.Minute,
			ColdStartTTL:    30 * time.Minute,
		},
	}
}

var (
	dataStorePrefixes  = []string{"mysql://", "postgres://", "postgresql://", "sqlite://", "mongodb://", "mongodb+srv://"}
	cacheStorePrefixes = []string{"mysql://", "postgres://", "postgresql://", "sqlite://", "redis://", "rediss://", "memory://"}
)

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// Validate checks the configuration with struct tags.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("data_store", func(fl validator.FieldLevel) bool {
		return hasAnyPrefix(fl.Field().String(), dataStorePrefixes)
	}); err != nil {
		return errors.Trace(err)
	}
	if err := validate.RegisterValidation("cache_store", func(fl validator.FieldLevel) bool {
		return hasAnyPrefix(fl.Field().String(), cacheStorePrefixes)
	}); err != nil {
		return errors.Trace(err)
	}
	return validate.Struct(config)
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [database]
	v.SetDefault("database.data_store", defaultConfig.Database.DataStore)
	v.SetDefault("database.cache_store", defaultConfig.Database.CacheStore)
	v.SetDefault("database.table_prefix", defaultConfig.Database.TablePrefix)
	v.SetDefault("database.mysql.isolation_level", defaultConfig.Database.MySQL.IsolationLevel)
	v.SetDefault("database.mysql.max_open_conns", defaultConfig.Database.MySQL.MaxOpenConns)
	v.SetDefault("database.mysql.max_idle_conns", defaultConfig.Database.MySQL.MaxIdleConns)
	v.SetDefault("database.mysql.conn_max_lifetime", defaultConfig.Database.MySQL.ConnMaxLifetime)
	// [recommend]
	v.SetDefault("recommend.top_n", defaultConfig.Recommend.TopN)
	v.SetDefault("recommend.num_factors", defaultConfig.Recommend.NumFactors)
	v.SetDefault("recommend.min_predicted", defaultConfig.Recommend.MinPredicted)
	v.SetDefault("recommend.min_ratings", defaultConfig.Recommend.MinRatings)
	v.SetDefault("recommend.rating_min", defaultConfig.Recommend.RatingMin)
	v.SetDefault("recommend.rating_max", defaultConfig.Recommend.RatingMax)
	v.SetDefault("recommend.personalized_ttl", defaultConfig.Recommend.PersonalizedTTL)
	v.SetDefault("recommend.cold_start_ttl", defaultConfig.Recommend.ColdStartTTL)
	v.SetDefault("recommend.fallback_filter", defaultConfig.Recommend.FallbackFilter)
}

type configBinding struct {
	key string
	env string
}

func bindEnv(v *viper.Viper) {
	bindings := []configBinding{
		{"database.data_store", "ANIREC_DATA_STORE"},
		{"database.cache_store", "ANIREC_CACHE_STORE"},
		{"database.table_prefix", "ANIREC_TABLE_PREFIX"},
		{"recommend.top_n", "ANIREC_TOP_N"},
		{"recommend.num_factors", "ANIREC_NUM_FACTORS"},
		{"recommend.min_predicted", "ANIREC_MIN_PREDICTED"},
	}
	for _, binding := range bindings {
		_ = v.BindEnv(binding.key, binding.env)
	}
}

// LoadConfig loads configuration from a TOML file. Environment variables take precedence
// over the file, and an empty path loads defaults plus environment variables only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	bindEnv(v)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

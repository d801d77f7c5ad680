// Copyright 2022 The brane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"bytes"
	"testing"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestViperConfigParsing(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	validate := validator.New()

	// Case 0: parse config with no defaults in place
	{
		viper.Reset()
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 1: load the configs
	{
		viper.Reset()
		var cfg SystemConfig
		InstallDefaultConfigValues()
		assert.Nil(viper.Unmarshal(&cfg))
		assert.Nil(validate.Struct(&cfg))
		assert.Equal("brane:stream", cfg.Realtime.StreamConsumer.Stream)
		assert.Equal("processors", cfg.Realtime.StreamConsumer.Group)
		assert.Equal([]string{"brane:insights", "brane:alerts"}, cfg.Notifications.Channels)
		assert.Equal("redis", cfg.Notifications.Backend)
		assert.EqualValues(8000, cfg.APIServer.Server.Port)
		assert.Equal(int64(86400000), cfg.Store.SeriesRetention)
		assert.Equal(
			int64(1000), cfg.Realtime.StreamConsumer.PollTimeoutDuration().Milliseconds(),
		)
		assert.Equal(
			int64(5000), cfg.Realtime.StreamConsumer.ErrorBackoffDuration().Milliseconds(),
		)
	}

	// Case 2: invalid config
	{
		viper.Reset()
		InstallDefaultConfigValues()
		config := []byte(`---
api_server:
  server_config:
    listen_on: 1243`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 3: unknown notification backend
	{
		viper.Reset()
		InstallDefaultConfigValues()
		config := []byte(`---
notifications:
  backend: kafka`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 4: override from file content
	{
		viper.Reset()
		InstallDefaultConfigValues()
		config := []byte(`---
redis:
  host: redis.example.com
  port: 19369
realtime:
  stream_consumer:
    consumer: worker7
    poll_timeout_ms: 250`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.Nil(validate.Struct(&cfg))
		assert.Equal("redis.example.com", cfg.Redis.Host)
		assert.EqualValues(19369, cfg.Redis.Port)
		assert.Equal("worker7", cfg.Realtime.StreamConsumer.Consumer)
		assert.Equal(250, cfg.Realtime.StreamConsumer.PollTimeout)
	}

	// Case 5: environment overrides
	{
		viper.Reset()
		InstallDefaultConfigValues()
		t.Setenv("REDIS_HOST", "cache.internal")
		t.Setenv("REDIS_PORT", "6380")
		assert.Nil(BindEnvironment())
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.Nil(validate.Struct(&cfg))
		assert.Equal("cache.internal", cfg.Redis.Host)
		assert.EqualValues(6380, cfg.Redis.Port)
	}
	viper.Reset()
}

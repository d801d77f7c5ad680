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

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/brane/common"
	"github.com/apex/log"
	"github.com/redis/go-redis/v9"
)

// RedisClientOptions converts the Redis config into client options
//
// RESP2 is requested so module commands (FT.SEARCH, TS.RANGE) reply with flat arrays.
func RedisClientOptions(cfg common.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		Protocol:     2,
		DialTimeout:  time.Second * time.Duration(cfg.ConnectTimeout),
		ReadTimeout:  time.Second * time.Duration(cfg.SocketTimeout),
		WriteTimeout: time.Second * time.Duration(cfg.SocketTimeout),
	}
}

// GetRedisClient define a new Redis client and verify the server is reachable
func GetRedisClient(ctxt context.Context, cfg common.RedisConfig) (*redis.Client, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "redis-client",
		"instance":  fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
	return ConnectRedis(ctxt, RedisClientOptions(cfg), logTags)
}

// ConnectRedis create a client from raw options and PING the server
func ConnectRedis(
	ctxt context.Context, opts *redis.Options, logTags log.Fields,
) (*redis.Client, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctxt).Err(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Redis PING failed")
		_ = client.Close()
		return nil, err
	}
	log.WithFields(logTags).Info("Connected to Redis")
	return client, nil
}

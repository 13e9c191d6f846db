// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package redisq

import "github.com/redis/go-redis/v9"

// RedisConnOpt is a discriminated set of ways to configure a Redis
// connection: RedisClientOpt for a single node and RedisClusterClientOpt
// for a cluster. No sentinel-managed failover option is provided. Mirrors the corpus's convention of accepting an interface{}-typed
// option and type-switching on MakeRedisClient's result.
type RedisConnOpt interface {
	MakeRedisClient() interface{}
}

// RedisClientOpt is used to create a Client backed by a single Redis
// instance.
type RedisClientOpt struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// MakeRedisClient implements RedisConnOpt.
func (o RedisClientOpt) MakeRedisClient() interface{} {
	return redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Username: o.Username,
		Password: o.Password,
		DB:       o.DB,
	})
}

// RedisClusterClientOpt is used to create a Client backed by a Redis
// Cluster deployment.
type RedisClusterClientOpt struct {
	Addrs    []string
	Username string
	Password string
}

// MakeRedisClient implements RedisConnOpt.
func (o RedisClusterClientOpt) MakeRedisClient() interface{} {
	return redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:    o.Addrs,
		Username: o.Username,
		Password: o.Password,
	})
}

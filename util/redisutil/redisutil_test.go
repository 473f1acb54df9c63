// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package redisutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/offchainlabs/blockproofs/util/testhelpers"
)

func TestRedisClientFromURL(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := RedisClientFromURL("")
	testhelpers.RequireImpl(t, err)
	require.Nil(t, client)

	client, err = RedisClientFromURL(CreateTestRedis(ctx, t))
	testhelpers.RequireImpl(t, err)
	defer client.Close()
	testhelpers.RequireImpl(t, client.Set(ctx, "key", "value", 0).Err())
	value, err := client.Get(ctx, "key").Result()
	testhelpers.RequireImpl(t, err)
	require.Equal(t, "value", value)
}

func TestParseFailoverRedisUrl(t *testing.T) {
	o, err := parseFailoverRedisUrl("redis+sentinel://:secret@host1:1234,host2/mymaster/3?dial_timeout=3&read_timeout=6s&max_retries=2")
	testhelpers.RequireImpl(t, err)
	require.Equal(t, "mymaster", o.MasterName)
	require.Equal(t, 3, o.DB)
	require.Equal(t, "secret", o.SentinelPassword)
	require.Equal(t, []string{"host1:1234", "host2:26379"}, o.SentinelAddrs)
	require.Equal(t, 3*time.Second, o.DialTimeout)
	require.Equal(t, 6*time.Second, o.ReadTimeout)
	require.Equal(t, 2, o.MaxRetries)

	o, err = parseFailoverRedisUrl("redis+sentinel://[::1]:5000,:6000,host3/master")
	testhelpers.RequireImpl(t, err)
	require.Equal(t, []string{"[::1]:5000", "localhost:6000", "host3:26379"}, o.SentinelAddrs)
	require.Empty(t, o.SentinelPassword)

	client, err := RedisClientFromURL("redis+sentinel://:secret@host1:1234,host2:2345/mymaster")
	testhelpers.RequireImpl(t, err)
	require.NotNil(t, client)
	testhelpers.RequireImpl(t, client.Close())

	for _, bad := range []string{
		"redis+sentinel://host1",
		"redis+sentinel://host1,host2",
		"redis+sentinel://host1/master/x",
		"redis+sentinel://host1/master?unknown=1",
		"redis+sentinel://host1,host2/master?dial_timeout=soon",
		"redis://host1/master",
	} {
		_, err := parseFailoverRedisUrl(bad)
		require.Error(t, err, bad)
	}
}

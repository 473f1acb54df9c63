// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package redisutil

import (
	"cmp"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClientFromURL creates a new Redis client based on the provided URL.
// The URL scheme can be either `redis`, `rediss` or `redis+sentinel`. An
// empty URL yields a nil client.
func RedisClientFromURL(redisUrl string) (redis.UniversalClient, error) {
	if redisUrl == "" {
		return nil, nil
	}
	if strings.HasPrefix(redisUrl, sentinelScheme) {
		redisOptions, err := parseFailoverRedisUrl(redisUrl)
		if err != nil {
			return nil, err
		}
		return redis.NewFailoverClient(redisOptions), nil
	}
	redisOptions, err := redis.ParseURL(redisUrl)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(redisOptions), nil
}

const sentinelScheme = "redis+sentinel://"

// Example:
//
//	redis+sentinel://:<password>@<host1>:<port1>,<host2>:<port2>/<master_name>/<db_number>?dial_timeout=3&read_timeout=6s&max_retries=2
func parseFailoverRedisUrl(redisUrl string) (*redis.FailoverOptions, error) {
	hosts, u, err := splitSentinelHosts(redisUrl)
	if err != nil {
		return nil, err
	}
	o := &redis.FailoverOptions{}
	if u.User != nil {
		if p, ok := u.User.Password(); ok {
			o.SentinelPassword = p
		}
	}
	o.SentinelAddrs = addressesWithDefaults(hosts)
	f := strings.FieldsFunc(u.Path, func(r rune) bool {
		return r == '/'
	})
	switch len(f) {
	case 0:
		return nil, fmt.Errorf("redis: master name is required")
	case 1:
		o.MasterName = f[0]
	case 2:
		o.MasterName = f[0]
		db, err := strconv.Atoi(f[1])
		if err != nil {
			return nil, fmt.Errorf("redis: invalid database number: %q", f[1])
		}
		o.DB = db
	default:
		return nil, fmt.Errorf("redis: invalid URL path: %s", u.Path)
	}
	return setupConnParams(u, o)
}

// splitSentinelHosts cuts the comma separated host list, which url.Parse
// rejects, out of the authority and parses the remainder.
func splitSentinelHosts(redisUrl string) ([]string, *url.URL, error) {
	rest, ok := strings.CutPrefix(redisUrl, sentinelScheme)
	if !ok {
		return nil, nil, fmt.Errorf("redis: not a sentinel url: %s", redisUrl)
	}
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		end = len(rest)
	}
	authority, tail := rest[:end], rest[end:]
	userinfo := ""
	if at := strings.LastIndex(authority, "@"); at >= 0 {
		userinfo, authority = authority[:at+1], authority[at+1:]
	}
	u, err := url.Parse(sentinelScheme + userinfo + "sentinels" + tail)
	if err != nil {
		return nil, nil, err
	}
	return strings.Split(authority, ","), u, nil
}

func addressesWithDefaults(hosts []string) []string {
	addresses := make([]string, 0, len(hosts))
	for _, urlHost := range hosts {
		host, port, err := net.SplitHostPort(urlHost)
		if err != nil {
			host, port = urlHost, ""
		}
		addresses = append(addresses, net.JoinHostPort(cmp.Or(host, "localhost"), cmp.Or(port, "26379")))
	}
	return addresses
}

// parseDuration reads plain numbers as seconds. Non positive numbers
// disable the timeout.
func parseDuration(value string) (time.Duration, error) {
	if i, err := strconv.Atoi(value); err == nil {
		if i <= 0 {
			return -1, nil
		}
		return time.Duration(i) * time.Second, nil
	}
	return time.ParseDuration(value)
}

func setupConnParams(u *url.URL, o *redis.FailoverOptions) (*redis.FailoverOptions, error) {
	ints := map[string]*int{
		"db":             &o.DB,
		"max_retries":    &o.MaxRetries,
		"pool_size":      &o.PoolSize,
		"min_idle_conns": &o.MinIdleConns,
	}
	durations := map[string]*time.Duration{
		"min_retry_backoff": &o.MinRetryBackoff,
		"max_retry_backoff": &o.MaxRetryBackoff,
		"dial_timeout":      &o.DialTimeout,
		"read_timeout":      &o.ReadTimeout,
		"write_timeout":     &o.WriteTimeout,
		"pool_timeout":      &o.PoolTimeout,
		"idle_timeout":      &o.IdleTimeout,
		"max_conn_age":      &o.MaxConnAge,
	}
	query := u.Query()
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := query[name]
		value := values[len(values)-1]
		if value == "" {
			continue
		}
		if target, ok := ints[name]; ok {
			i, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("redis: invalid %s number: %w", name, err)
			}
			*target = i
		} else if target, ok := durations[name]; ok {
			d, err := parseDuration(value)
			if err != nil {
				return nil, fmt.Errorf("redis: invalid %s duration: %w", name, err)
			}
			*target = d
		} else {
			return nil, fmt.Errorf("redis: unexpected option: %s", name)
		}
	}
	return o, nil
}

// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package database

import (
	"errors"
	"sync"
	"time"

	"github.com/almalinux/mirrorsvc/core"
	"github.com/gomodule/redigo/redis"
	"github.com/op/go-logging"
)

const (
	redisConnectionTimeout = 200 * time.Millisecond
	redisReadWriteTimeout  = 300 * time.Second
)

var (
	log = logging.MustGetLogger("main")

	// ErrUnreachable is returned when the endpoint is not reachable
	ErrUnreachable = errors.New("redis endpoint unreachable")
)

type redisPool interface {
	Get() redis.Conn
	Close() error
}

// Redis is the instance object of the redis database. It holds a
// read-write pool plus a read-only pool pointed at a replica when
// REDIS_URI_RO is set.
type Redis struct {
	pool         redisPool
	poolRO       redisPool
	failure      bool
	failureState sync.RWMutex
	stop         chan struct{}
	closeOnce    sync.Once
}

// NewRedis returns a new instance of the redis database
func NewRedis() *Redis {
	return NewRedisCustomPool(nil)
}

// NewRedisCustomPool returns a new instance of the redis database
// using a custom pool. Used by tests to substitute a mock connection.
func NewRedisCustomPool(pool redisPool) *Redis {
	r := &Redis{
		stop: make(chan struct{}),
	}

	if pool != nil {
		r.pool = pool
		r.poolRO = pool
		return r
	}

	r.pool = r.newPool(core.RedisURI())
	r.poolRO = r.newPool(core.RedisURIRO())

	go r.connRecover()

	return r
}

func (r *Redis) newPool(uri string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     10,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			conn, err := redis.DialURL(uri,
				redis.DialConnectTimeout(redisConnectionTimeout),
				redis.DialReadTimeout(redisReadWriteTimeout),
				redis.DialWriteTimeout(redisReadWriteTimeout))

			switch err {
			case nil:
				r.setFailureState(false)
			default:
				r.setFailureState(true)
			}

			return conn, err
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			_, err := c.Do("PING")
			if RedisIsLoading(err) {
				return nil
			}
			return err
		},
	}
}

// Get returns a read-write redis connection from the pool
func (r *Redis) Get() redis.Conn {
	return r.pool.Get()
}

// GetRO returns a read-only redis connection, preferring the replica
// pool when one is configured.
func (r *Redis) GetRO() redis.Conn {
	return r.poolRO.Get()
}

// Close closes all connections to the redis database
func (r *Redis) Close() {
	r.closeOnce.Do(func() {
		log.Debug("Closing databases connections")
		r.pool.Close()
		if r.poolRO != r.pool {
			r.poolRO.Close()
		}
		close(r.stop)
	})
}

func (r *Redis) setFailureState(failure bool) {
	r.failureState.Lock()
	r.failure = failure
	r.failureState.Unlock()
}

// Failure returns true if the connection is in a failure state
func (r *Redis) Failure() bool {
	r.failureState.RLock()
	defer r.failureState.RUnlock()
	return r.failure
}

func (r *Redis) connRecover() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if r.Failure() {
				if conn := r.Get(); conn != nil {
					// A successful Get() request will automatically unlock
					// other services waiting for a working connection.
					if conn.Err() != nil {
						log.Warningf("Database is down: %s", conn.Err().Error())
					}
					conn.Close()
				}
			}
		}
	}
}

// RedisIsLoading returns true if the error is of type LOADING
func RedisIsLoading(err error) bool {
	// PARSING: "LOADING Redis is loading the dataset in memory"
	return err != nil && len(err.Error()) >= 7 && err.Error()[:7] == "LOADING"
}

package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"incident-service/config"
	"incident-service/metrics"

	"github.com/apex/log"
	"github.com/go-sql-driver/mysql"
)

// ErrStoreUnavailable is returned when the store connection is not in the
// Connected state.
var ErrStoreUnavailable = errors.New("store unavailable")

// State is the lifecycle state of a Connection
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Opener opens a connection pool. It must not block longer than ctx allows.
type Opener func(ctx context.Context) (*sql.DB, error)

// ConnectHook runs after every successful connect, before the connection is
// marked Connected. An error fails the attempt.
type ConnectHook func(ctx context.Context, db *sql.DB) error

// Connection manages the lifecycle of the connection to the report store.
// State transitions are atomic, the pool itself is guarded by mu.
type Connection struct {
	open           Opener
	onConnect      []ConnectHook
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
	connectTimeout time.Duration
	healthInterval time.Duration

	state atomic.Int32

	mu sync.RWMutex
	db *sql.DB

	dropped  chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConnection creates a disconnected MySQL connection manager from config.
func NewConnection(cfg *config.Config) *Connection {
	return NewConnectionWithOpener(cfg, mysqlOpener(cfg))
}

// NewConnectionWithOpener creates a disconnected connection manager using open
// to create pools.
func NewConnectionWithOpener(cfg *config.Config, open Opener) *Connection {
	c := &Connection{
		open:           open,
		retryDelay:     cfg.DBRetryDelay,
		maxRetryDelay:  cfg.DBMaxRetryDelay,
		connectTimeout: cfg.DBConnectTimeout,
		healthInterval: cfg.DBHealthInterval,
		dropped:        make(chan struct{}, 1),
		stopChan:       make(chan struct{}),
	}
	if c.maxRetryDelay < c.retryDelay {
		c.maxRetryDelay = c.retryDelay
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

func mysqlOpener(cfg *config.Config) Opener {
	mc := mysql.NewConfig()
	mc.User = cfg.DBUser
	mc.Passwd = cfg.DBPassword
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%s", cfg.DBHost, cfg.DBPort)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Timeout = cfg.DBConnectTimeout
	dsn := mc.FormatDSN()

	return func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return db, nil
	}
}

// OnConnect registers a hook run after each successful connect.
// Must be called before Start.
func (c *Connection) OnConnect(hook ConnectHook) {
	c.onConnect = append(c.onConnect, hook)
}

// State returns the current state without blocking.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// IsReady reports whether the store is Connected.
func (c *Connection) IsReady() bool {
	return c.State() == StateConnected
}

// DB returns the pool when Connected, ErrStoreUnavailable otherwise.
func (c *Connection) DB() (*sql.DB, error) {
	if !c.IsReady() {
		return nil, ErrStoreUnavailable
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, ErrStoreUnavailable
	}
	return c.db, nil
}

func (c *Connection) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	if s == StateConnected {
		metrics.StoreConnected.Set(1)
	} else {
		metrics.StoreConnected.Set(0)
	}
	log.WithFields(log.Fields{"from": prev.String(), "to": s.String()}).Info("Store connection state changed")
}

// Connect makes a single connection attempt bounded by the connect timeout.
// On failure the connection is left Disconnected.
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	db, err := c.open(ctx)
	if err == nil {
		for _, hook := range c.onConnect {
			if err = hook(ctx, db); err != nil {
				db.Close()
				err = fmt.Errorf("connect hook failed: %w", err)
				break
			}
		}
	}
	metrics.StoreConnectAttemptsTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.mu.Lock()
	old := c.db
	c.db = db
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	c.setState(StateConnected)
	return nil
}

// ReportFailure marks the connection Disconnected when err shows the
// connection itself is gone, so the reconnect loop picks it up.
func (c *Connection) ReportFailure(err error) {
	if !isConnectionError(err) {
		return
	}
	c.markDropped(err)
}

func (c *Connection) markDropped(err error) {
	if State(c.state.Load()) != StateConnected {
		return
	}
	log.WithError(err).Warn("Store connection dropped")
	c.setState(StateDisconnected)
	select {
	case c.dropped <- struct{}{}:
	default:
	}
}

func isConnectionError(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, sql.ErrConnDone)
}

// Start launches the reconnect loop. It returns immediately; the first
// connect attempt happens in the background.
func (c *Connection) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop ends the reconnect loop and closes the pool.
func (c *Connection) Stop() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()

	c.setState(StateDisconnected)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *Connection) run() {
	defer c.wg.Done()

	delay := c.retryDelay
	for {
		if !c.IsReady() {
			if err := c.Connect(context.Background()); err != nil {
				log.WithError(err).Warnf("Store connection failed, retrying in %v", delay)
				if !c.sleep(delay) {
					return
				}
				delay *= 2
				if delay > c.maxRetryDelay {
					delay = c.maxRetryDelay
				}
				continue
			}
			delay = c.retryDelay
		}

		select {
		case <-c.stopChan:
			return
		case <-c.dropped:
			if !c.sleep(c.retryDelay) {
				return
			}
		case <-time.After(c.healthInterval):
			if !c.checkHealth() && !c.sleep(c.retryDelay) {
				return
			}
		}
	}
}

// checkHealth pings the pool and reports false when the connection is gone.
func (c *Connection) checkHealth() bool {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()
	if db == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.WithError(err).Warn("Store health check failed")
		c.setState(StateDisconnected)
		return false
	}
	return true
}

// sleep waits for d and reports false if the connection was stopped meanwhile.
func (c *Connection) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.stopChan:
		return false
	case <-timer.C:
		return true
	}
}

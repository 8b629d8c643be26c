package syncer

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mycoool/tongbu/internal/types"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	dialTimeout      = 10 * time.Second
	keepaliveEvery   = 30 * time.Second
	reconnectBackoff = 1 * time.Second
	reconnectMax     = 30 * time.Second
)

// Conn wraps the SSH transport and SFTP session of one task endpoint.
// Session management (connect/reconnect) is mutex-guarded; individual file
// transfers run concurrently over the shared session.
type Conn struct {
	cfg    types.EndpointConfig
	sshCfg types.SSHConfig

	mu      sync.Mutex
	client  *ssh.Client
	sftpCli *sftp.Client
	healthy bool
	closed  bool
	redial  bool // reconnect loop already running

	// Orchestrator callbacks; onDown moves the engine into degraded,
	// onUp triggers the differential reconciliation scan.
	onDown func(error)
	onUp   func()
}

// NewConn builds an unconnected SSH connection wrapper.
func NewConn(cfg types.EndpointConfig, sshCfg types.SSHConfig) *Conn {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &Conn{cfg: cfg, sshCfg: sshCfg}
}

// OnStateChange registers connection health callbacks.
func (c *Conn) OnStateChange(onDown func(error), onUp func()) {
	c.mu.Lock()
	c.onDown = onDown
	c.onUp = onUp
	c.mu.Unlock()
}

// Dial establishes the SSH transport and SFTP session. Authentication
// failures are terminal; other failures are transport errors.
func (c *Conn) Dial() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialLocked()
}

func (c *Conn) dialLocked() error {
	if c.closed {
		return transportError(errors.New("connection closed"))
	}
	if c.client != nil && c.healthy {
		return nil
	}
	c.teardownLocked()

	auth, err := c.authMethods()
	if err != nil {
		return err
	}
	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	clientCfg := &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}

	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		if isAuthError(err) {
			return fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return transportError(err)
	}

	sftpCli, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return transportError(err)
	}

	c.client = client
	c.sftpCli = sftpCli
	c.healthy = true
	go c.keepalive(client)
	log.Printf("syncer: ssh connected: %s@%s", c.cfg.Username, addr)
	return nil
}

func (c *Conn) authMethods() ([]ssh.AuthMethod, error) {
	var auth []ssh.AuthMethod
	if c.cfg.SSHKeyPath != "" {
		keyBytes, err := os.ReadFile(c.cfg.SSHKeyPath)
		if err != nil {
			return nil, configErrorf("read ssh key: %v", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, configErrorf("parse ssh key: %v", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.cfg.Password != "" {
		auth = append(auth, ssh.Password(c.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, configErrorf("ssh endpoint has neither password nor key")
	}
	return auth, nil
}

func (c *Conn) hostKeyCallback() (ssh.HostKeyCallback, error) {
	policy := c.sshCfg.HostKeyPolicy
	path := c.sshCfg.KnownHostsPath
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
	}

	switch policy {
	case "accept-any":
		return ssh.InsecureIgnoreHostKey(), nil
	case "reject", "":
		cb, err := knownhosts.New(path)
		if err != nil {
			return nil, configErrorf("load known_hosts: %v", err)
		}
		return cb, nil
	case "accept-new":
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, configErrorf("prepare known_hosts dir: %v", err)
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := os.WriteFile(path, nil, 0600); err != nil {
				return nil, configErrorf("create known_hosts: %v", err)
			}
		}
		strict, err := knownhosts.New(path)
		if err != nil {
			return nil, configErrorf("load known_hosts: %v", err)
		}
		return acceptNewCallback(strict, path), nil
	default:
		return nil, configErrorf("unknown host key policy: %s", policy)
	}
}

// acceptNewCallback accepts and records unknown hosts; a changed key for a
// known host is still rejected.
func acceptNewCallback(strict ssh.HostKeyCallback, path string) ssh.HostKeyCallback {
	var mu sync.Mutex
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := strict(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			mu.Lock()
			defer mu.Unlock()
			f, openErr := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
			if openErr != nil {
				return openErr
			}
			defer f.Close()
			line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
			if _, writeErr := fmt.Fprintln(f, line); writeErr != nil {
				return writeErr
			}
			log.Printf("syncer: recorded new host key for %s", hostname)
			return nil
		}
		return err
	}
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied")
}

func (c *Conn) keepalive(client *ssh.Client) {
	ticker := time.NewTicker(keepaliveEvery)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		stale := c.closed || c.client != client
		c.mu.Unlock()
		if stale {
			return
		}
		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			c.MarkFailure(err)
			return
		}
	}
}

// SFTP returns the current SFTP session.
func (c *Conn) SFTP() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftpCli == nil || !c.healthy {
		return nil, transportError(errors.New("sftp session unavailable"))
	}
	return c.sftpCli, nil
}

// Client returns the underlying SSH client for control-channel sessions.
func (c *Conn) Client() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || !c.healthy {
		return nil, transportError(errors.New("ssh client unavailable"))
	}
	return c.client, nil
}

// Healthy reports whether the transport is currently usable.
func (c *Conn) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy && c.client != nil
}

// MarkFailure records a transport error, notifies the orchestrator and
// starts the backoff reconnect loop. Auth errors are surfaced without retry.
func (c *Conn) MarkFailure(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	wasHealthy := c.healthy
	c.healthy = false
	onDown := c.onDown
	alreadyRedialing := c.redial
	terminal := errors.Is(err, ErrAuth) || isAuthError(err)
	if !terminal {
		c.redial = true
	}
	c.mu.Unlock()

	if wasHealthy && onDown != nil {
		onDown(transportError(err))
	}
	if terminal {
		log.Printf("syncer: ssh auth failure for %s@%s, not retrying: %v", c.cfg.Username, c.cfg.Host, err)
		return
	}
	if !alreadyRedialing {
		go c.reconnectLoop()
	}
}

func (c *Conn) reconnectLoop() {
	backoff := reconnectBackoff
	for {
		time.Sleep(backoff)
		c.mu.Lock()
		if c.closed {
			c.redial = false
			c.mu.Unlock()
			return
		}
		err := c.dialLocked()
		onUp := c.onUp
		if err == nil {
			c.redial = false
			c.mu.Unlock()
			log.Printf("syncer: ssh reconnected: %s@%s", c.cfg.Username, c.cfg.Host)
			if onUp != nil {
				onUp()
			}
			return
		}
		c.mu.Unlock()
		if errors.Is(err, ErrAuth) {
			c.mu.Lock()
			c.redial = false
			c.mu.Unlock()
			log.Printf("syncer: ssh reconnect hit auth failure, giving up: %v", err)
			return
		}
		log.Printf("syncer: ssh reconnect to %s failed: %v (next attempt in %s)", c.cfg.Host, err, backoff)
		if backoff < reconnectMax {
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
		}
	}
}

func (c *Conn) teardownLocked() {
	if c.sftpCli != nil {
		_ = c.sftpCli.Close()
		c.sftpCli = nil
	}
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}
	c.healthy = false
}

// Close tears the connection down permanently.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.teardownLocked()
	return nil
}

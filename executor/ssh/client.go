// Package ssh runs commands and uploads files on a remote host over SSH.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/moby/term"
	"github.com/pkg/sftp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/models"
)

const defaultTimeout = 10 * time.Second

// Config describes how to reach a machine.
type Config struct {
	Host           string
	User           string
	Port           int
	IdentityFile   string        // Private key; ~/.ssh/id_* are tried when empty
	KnownHostsFile string        // Defaults to ~/.ssh/known_hosts
	Timeout        time.Duration // Dial timeout
	UseSetenv      bool          // Send the environment as setenv requests (needs AcceptEnv on the server)
}

// Addr returns host:port.
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Client is an executor.Remote backed by one lazily dialled SSH connection.
type Client struct {
	cfg Config
	log *zap.SugaredLogger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	mu   sync.Mutex
	conn *ssh.Client
	sftp *sftp.Client
}

var _ executor.Remote = (*Client)(nil)

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		log:    log.Sugar(),
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func (c *Client) connect(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	hostKey, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	conf := &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            c.authMethods(),
		HostKeyCallback: hostKey,
		Timeout:         c.cfg.Timeout,
	}

	dialer := net.Dialer{Timeout: c.cfg.Timeout}
	addr := c.cfg.Addr()
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, conf)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	c.conn = ssh.NewClient(sshConn, chans, reqs)
	c.log.Debugf("connected to %s@%s", c.cfg.User, addr)
	return c.conn, nil
}

func (c *Client) authMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		} else {
			c.log.Debugf("ssh agent unavailable: %v", err)
		}
	}

	var signers []ssh.Signer
	for _, f := range c.identityFiles() {
		pem, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			c.log.Debugf("skipping %s: %v", f, err)
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	return methods
}

func (c *Client) identityFiles() []string {
	if c.cfg.IdentityFile != "" {
		return []string{expandHome(c.cfg.IdentityFile)}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_ecdsa"),
		filepath.Join(home, ".ssh", "id_rsa"),
	}
}

func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	file := c.cfg.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			file = filepath.Join(home, ".ssh", "known_hosts")
		}
	}
	file = expandHome(file)
	if _, err := os.Stat(file); err != nil {
		c.log.Warnf("no known_hosts file at %q, host key of %s is not verified", file, c.cfg.Host)
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	return cb, nil
}

// Run executes cmd on the remote host. Output is echoed unless opts.Hide is set and is
// always captured in the result.
func (c *Client) Run(ctx context.Context, cmd string, opts executor.RunOptions) (*models.ExecutionResult, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	session, err := conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	if c.cfg.UseSetenv {
		var setErr error
		opts.Env.Each(func(k, v string) {
			setErr = multierr.Append(setErr, session.Setenv(k, v))
		})
		if setErr != nil {
			return nil, fmt.Errorf("remote refused environment (is AcceptEnv configured?): %w", setErr)
		}
	}

	line := BuildCommand(cmd, opts, c.cfg.UseSetenv)
	c.log.Debugf("ssh %s: %s", c.cfg.Host, line)

	var stdout, stderr bytes.Buffer
	if opts.Hide || opts.Disown {
		session.Stdout = &stdout
		session.Stderr = &stderr
	} else {
		session.Stdout = io.MultiWriter(c.Stdout, &stdout)
		session.Stderr = io.MultiWriter(c.Stderr, &stderr)
	}

	if opts.PTY && !opts.Disown {
		restore, err := c.requestPty(session)
		if err != nil {
			return nil, err
		}
		defer restore()
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return nil, ctx.Err()
	case err = <-done:
	}

	res := models.NewExecutionResult(0)
	res.STDOUT = stdout.String()
	res.STDERR = stderr.String()
	if err == nil {
		return res, nil
	}

	if exitErr, ok := err.(*ssh.ExitError); ok {
		res.ExitCode = exitErr.ExitStatus()
		return res, &executor.RemoteExecutionError{Command: cmd, ExitCode: res.ExitCode, Stderr: res.STDERR}
	}
	return res, fmt.Errorf("ssh command failed: %w", err)
}

// requestPty allocates a terminal sized like the local one and puts stdin in raw mode.
func (c *Client) requestPty(session *ssh.Session) (func(), error) {
	width, height := 80, 24
	restore := func() {}

	if f, ok := c.Stdin.(*os.File); ok {
		fd, isTerm := term.GetFdInfo(f)
		if isTerm {
			if ws, err := term.GetWinsize(fd); err == nil {
				width, height = int(ws.Width), int(ws.Height)
			}
			state, err := term.SetRawTerminal(fd)
			if err == nil {
				restore = func() { _ = term.RestoreTerminal(fd, state) }
			}
		}
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", height, width, modes); err != nil {
		restore()
		return nil, fmt.Errorf("failed to allocate a pty: %w", err)
	}
	session.Stdin = c.Stdin
	return restore, nil
}

// Put uploads content to dst over SFTP, creating the parent directory.
func (c *Client) Put(ctx context.Context, content io.Reader, dst string) error {
	client, err := c.sftpClient(ctx)
	if err != nil {
		return err
	}
	if err := client.MkdirAll(path.Dir(dst)); err != nil {
		return fmt.Errorf("failed to create %s: %w", path.Dir(dst), err)
	}
	f, err := client.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	_, err = io.Copy(f, content)
	return multierr.Append(err, f.Close())
}

func (c *Client) sftpClient(ctx context.Context) (*sftp.Client, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftp == nil {
		c.sftp, err = sftp.NewClient(conn)
		if err != nil {
			return nil, fmt.Errorf("failed to start sftp: %w", err)
		}
	}
	return c.sftp, nil
}

// Close releases the SFTP session and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.sftp != nil {
		err = multierr.Append(err, c.sftp.Close())
		c.sftp = nil
	}
	if c.conn != nil {
		err = multierr.Append(err, c.conn.Close())
		c.conn = nil
	}
	return err
}

func expandHome(p string) string {
	if len(p) > 1 && p[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

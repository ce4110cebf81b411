package collectors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/netwatch-io/netwatch/internal/credentials"
	nwerrors "github.com/netwatch-io/netwatch/internal/errors"
	"golang.org/x/crypto/ssh"
)

// ExecResult carries the outcome of one remote command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ShellExecutor runs a command on a remote host over an authenticated
// session. Implementations must honor the timeout.
type ShellExecutor interface {
	Exec(ctx context.Context, address string, creds credentials.Credentials, command string, timeout time.Duration) (ExecResult, error)
}

// SSHExecutor is the production ShellExecutor over SSH.
type SSHExecutor struct {
	// DialTimeout bounds the TCP connect; command execution is bounded by
	// the per-call timeout.
	DialTimeout time.Duration
}

// NewSSHExecutor returns an executor with sane defaults.
func NewSSHExecutor() *SSHExecutor {
	return &SSHExecutor{DialTimeout: 10 * time.Second}
}

// Exec implements ShellExecutor.
func (e *SSHExecutor) Exec(ctx context.Context, address string, creds credentials.Credentials, command string, timeout time.Duration) (ExecResult, error) {
	var res ExecResult

	auth, err := authMethods(creds)
	if err != nil {
		return res, nwerrors.New(nwerrors.KindAuth, "ssh_exec", address, err)
	}

	if _, _, splitErr := net.SplitHostPort(address); splitErr != nil {
		address = net.JoinHostPort(address, "22")
	}

	conn, err := net.DialTimeout("tcp", address, e.DialTimeout)
	if err != nil {
		return res, nwerrors.New(nwerrors.KindConnection, "ssh_exec", address, err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, &ssh.ClientConfig{
		User: creds.Username,
		Auth: auth,
		// Fleet devices have churning host keys; pinning is the operator's
		// problem via known_hosts once the surrounding product wires it.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         e.DialTimeout,
	})
	if err != nil {
		conn.Close()
		return res, nwerrors.New(nwerrors.KindAuth, "ssh_exec", address, err)
	}
	client := ssh.NewClient(clientConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return res, nwerrors.New(nwerrors.KindConnection, "ssh_exec", address, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		session.Close()
		return res, nwerrors.New(nwerrors.KindTimeout, "ssh_exec", address,
			fmt.Errorf("command exceeded %s", timeout))
	case <-ctx.Done():
		session.Close()
		return res, nwerrors.New(nwerrors.KindTimeout, "ssh_exec", address, ctx.Err())
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, nwerrors.New(nwerrors.KindConnection, "ssh_exec", address, err)
	}
	return res, nil
}

func authMethods(creds credentials.Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if creds.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(creds.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if creds.Secret != "" {
		methods = append(methods, ssh.Password(creds.Secret))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("credential record has neither secret nor private key")
	}
	return methods, nil
}

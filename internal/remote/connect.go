package remote

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"pkt.systems/cortex/internal/sshagent"
	"pkt.systems/cortex/internal/sshkeys"
	"pkt.systems/cortex/schema"
)

const (
	probeHome     = "echo $HOME"
	probePlatform = "uname -s 2>/dev/null || echo Windows"
)

// Credentials are the secrets one connect attempt needs. They are fetched
// from the credential store per attempt and never kept on the session.
type Credentials struct {
	Password   string
	Passphrase string
}

// authMethods builds the auth chain for profile. release must be called once
// the handshake is over.
func authMethods(profile schema.SSHProfile, creds Credentials) ([]ssh.AuthMethod, func(), error) {
	noop := func() {}
	switch profile.Auth.Type {
	case schema.SSHAuthPassword:
		if creds.Password == "" {
			return nil, noop, schema.Auth("no password stored for profile")
		}
		password := creds.Password
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(answer),
		}, noop, nil
	case schema.SSHAuthKey:
		signer, err := sshkeys.LoadSigner(profile.Auth.KeyPath, []byte(creds.Passphrase))
		if err != nil {
			return nil, noop, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, noop, nil
	case schema.SSHAuthAgent:
		conn, err := sshagent.Dial("")
		if err != nil {
			return nil, noop, err
		}
		signers, err := conn.Signers()
		if err != nil {
			_ = conn.Close()
			return nil, noop, err
		}
		// Each identity is offered in turn until the server accepts one.
		return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, func() { _ = conn.Close() }, nil
	default:
		return nil, noop, schema.BadArgument("auth.type", "must be password, key or agent")
	}
}

func (c Config) dial(ctx context.Context, profile schema.SSHProfile, creds Credentials, hostKey ssh.HostKeyCallback) (*ssh.Client, error) {
	methods, release, err := authMethods(profile, creds)
	defer release()
	if err != nil {
		return nil, err
	}
	port := profile.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(profile.Host, strconv.Itoa(port))
	timeout := c.connectTimeout()
	dialer := net.Dialer{Timeout: timeout, KeepAlive: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, schema.FromContext(ctx.Err())
		}
		return nil, classifyNetErr(err)
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            profile.Username,
		Auth:            methods,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	})
	stop()
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, schema.FromContext(ctx.Err())
		}
		return nil, classifyHandshakeErr(err, profile.Auth.Type)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func classifyNetErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return schema.Timeout("ssh connect")
	}
	return schema.IO(err)
}

func classifyHandshakeErr(err error, auth schema.SSHAuthType) error {
	var typed *schema.Error
	if errors.As(err, &typed) {
		return typed
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return schema.Auth("server rejected " + string(auth) + " authentication")
	}
	return classifyNetErr(err)
}

// runExec runs command on a fresh channel and collects its output.
func runExec(ctx context.Context, client *ssh.Client, command string) (schema.ExecResult, error) {
	sess, err := client.NewSession()
	if err != nil {
		return schema.ExecResult{}, err
	}
	defer func() { _ = sess.Close() }()
	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()
	select {
	case err = <-done:
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		<-done
		return schema.ExecResult{}, schema.FromContext(ctx.Err())
	}
	code := 0
	if err != nil {
		var exitErr *ssh.ExitError
		var missing *ssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			code = exitErr.ExitStatus()
		case errors.As(err, &missing):
			code = -1
		default:
			return schema.ExecResult{}, err
		}
	}
	return schema.ExecResult{
		Stdout:   strings.ToValidUTF8(stdout.String(), "�"),
		Stderr:   strings.ToValidUTF8(stderr.String(), "�"),
		ExitCode: code,
	}, nil
}

// probe reads the remote home directory and platform name. Failures leave
// the fields empty.
func probe(ctx context.Context, client *ssh.Client) (home, platform string, err error) {
	res, err := runExec(ctx, client, probeHome)
	if err != nil {
		return "", "", err
	}
	home = strings.TrimSpace(res.Stdout)
	if home == "$HOME" {
		home = ""
	}
	res, err = runExec(ctx, client, probePlatform)
	if err != nil {
		return home, "", err
	}
	platform = strings.TrimSpace(res.Stdout)
	return home, platform, nil
}

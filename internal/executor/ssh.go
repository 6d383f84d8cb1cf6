// internal/executor/ssh.go - remote shell sessions over SSH
package executor

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"smartops/internal/database"
)

// Session is one authenticated remote shell. Commands run sequentially on
// the same underlying connection until Close.
type Session interface {
	Run(command string, timeout time.Duration) Outcome
	Close() error
}

// Dialer opens sessions. The SSH implementation is the production dialer;
// tests substitute doubles that count Dial calls.
type Dialer interface {
	Dial(ctx context.Context, server *database.Server, timeout time.Duration) (Session, error)
}

type SSHDialer struct{}

func (SSHDialer) Dial(ctx context.Context, server *database.Server, timeout time.Duration) (Session, error) {
	signer, err := parsePrivateKey([]byte(server.PrivateKey))
	if err != nil {
		return nil, &AuthenticationError{Err: err}
	}

	port := server.Port
	if port == 0 {
		port = 22
	}

	config := &ssh.ClientConfig{
		User:            server.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(server.Address, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &AuthenticationError{Err: err}
		}
		return nil, &ConnectionError{Err: err}
	}

	return &sshSession{client: client}, nil
}

type sshSession struct {
	client *ssh.Client
}

// lockedBuffer serializes the session's output copiers against the timeout
// path, which reads partial output while the remote command is still running.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (s *sshSession) Run(command string, timeout time.Duration) Outcome {
	start := time.Now()

	sess, err := s.client.NewSession()
	if err != nil {
		return Outcome{
			Success:        false,
			Error:          fmt.Sprintf("failed to open channel: %v", err),
			ElapsedSeconds: roundSeconds(time.Since(start)),
		}
	}
	defer sess.Close()

	var stdout, stderr lockedBuffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	select {
	case err = <-done:
	case <-time.After(timeout):
		sess.Close()
		return Outcome{
			Success:        false,
			Output:         Sanitize(stdout.String()),
			Error:          fmt.Sprintf("command timed out after %s", timeout),
			ElapsedSeconds: roundSeconds(time.Since(start)),
		}
	}

	elapsed := roundSeconds(time.Since(start))

	if err == nil {
		return Outcome{
			Success:        true,
			Output:         Sanitize(stdout.String()),
			ElapsedSeconds: elapsed,
		}
	}

	if exitErr, ok := err.(*ssh.ExitError); ok {
		msg := Sanitize(stderr.String())
		if msg == "" {
			msg = fmt.Sprintf("command exited with code %d", exitErr.ExitStatus())
		}
		return Outcome{
			Success:        false,
			Output:         Sanitize(stdout.String()),
			Error:          msg,
			ElapsedSeconds: elapsed,
		}
	}

	// Transport failure mid-command; report, never propagate
	return Outcome{
		Success:        false,
		Output:         Sanitize(stdout.String()),
		Error:          fmt.Sprintf("ssh error: %v", err),
		ElapsedSeconds: elapsed,
	}
}

func (s *sshSession) Close() error {
	return s.client.Close()
}

// The key material's algorithm is not known in advance, so decoding tries a
// fixed ordered list of parsers and keeps the first that succeeds.
var keyParsers = []struct {
	name  string
	parse func([]byte) (ssh.Signer, error)
}{
	{"openssh", ssh.ParsePrivateKey},
	{"pkcs1-rsa", parsePKCS1},
	{"pkcs8", parsePKCS8},
	{"sec1-ecdsa", parseSEC1},
}

func parsePrivateKey(material []byte) (ssh.Signer, error) {
	var errs []string
	for _, parser := range keyParsers {
		signer, err := parser.parse(material)
		if err == nil {
			return signer, nil
		}
		errs = append(errs, fmt.Sprintf("%s: %v", parser.name, err))
	}
	return nil, fmt.Errorf("unsupported private key material (%s)", strings.Join(errs, "; "))
}

func decodePEM(material []byte) (*pem.Block, error) {
	block, _ := pem.Decode(material)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	return block, nil
}

func parsePKCS1(material []byte) (ssh.Signer, error) {
	block, err := decodePEM(material)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(key)
}

func parsePKCS8(material []byte) (ssh.Signer, error) {
	block, err := decodePEM(material)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(key)
}

func parseSEC1(material []byte) (ssh.Signer, error) {
	block, err := decodePEM(material)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(key)
}

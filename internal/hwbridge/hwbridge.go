// Package hwbridge drives the hardware-token identity-plugin binary as a
// cooperating child process over a pseudo-terminal, the way
// tools/codex-interactive-driver/main.go drives an interactive CLI: spawn
// under a PTY, read its output in a background goroutine, and block the
// caller on regex/substring matches with a timeout instead of trying to
// parse a byte stream synchronously.
//
// The plugin protocol is line-based: the bridge writes one command line
// and the plugin answers with one or more lines drawn from a small
// vocabulary (ready prompt, PIN request, touch request, result).
package hwbridge

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/barqly/vault-core/internal/vaulterr"
	"github.com/barqly/vault-core/internal/vaultlog"
)

var readyPromptRe = regexp.MustCompile(`^READY\s+(\S+)$`)

const (
	linePinRequired   = "PIN?"
	linePinAccepted   = "PIN-OK"
	linePinRejected   = "PIN-BAD"
	lineTouchRequired = "TOUCH"
	lineOKPrefix      = "OK "
	lineErrPrefix     = "ERR "
)

// PinProvider supplies the PIN interactively when the plugin requests one.
type PinProvider func(ctx context.Context, deviceID string) (string, error)

// TouchNotifier is invoked when the plugin reports it is waiting for a
// physical touch, so a caller (CLI/GUI) can surface that to the user.
type TouchNotifier func(deviceID string)

// Settings tunes bridge timeouts. Mirrors vaultconfig.BridgeSettings without
// importing it, so hwbridge has no dependency on the config package.
type Settings struct {
	TouchTimeout   time.Duration
	PTYIdleTimeout time.Duration
}

// Client drives one identity-plugin binary. A Client serializes access to
// a single physical device: bridge sessions for the same device must
// never run concurrently.
type Client struct {
	BinaryPath string
	DeviceID   string
	Settings   Settings
	OnPin      PinProvider
	OnTouch    TouchNotifier

	mu sync.Mutex
}

// ECDH asks the plugin to perform an X25519 scalar multiplication between
// the device's resident private key and ephemeralPublicKey, returning the
// raw shared secret. It implements cryptostream.DeviceECDH.
func (c *Client) ECDH(ctx context.Context, ephemeralPublicKey []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := vaultlog.For("hwbridge").WithKey(c.DeviceID)

	sess, err := newSession(c.BinaryPath, c.DeviceID)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	if err := sess.expectReady(ctx, c.idleTimeout()); err != nil {
		return nil, err
	}

	cmd := fmt.Sprintf("ECDH %s %s", c.DeviceID, hex.EncodeToString(ephemeralPublicKey))
	if err := sess.sendLine(cmd); err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeProtocolError, "send ECDH command", err)
	}

	for {
		line, err := sess.nextLine(ctx, c.idleTimeout())
		if err != nil {
			return nil, err
		}
		switch {
		case line == linePinRequired:
			if c.OnPin == nil {
				return nil, vaulterr.New(vaulterr.CodePinRequired, "device requires a PIN but no PIN provider was configured")
			}
			pin, err := c.OnPin(ctx, c.DeviceID)
			if err != nil {
				return nil, vaulterr.Wrap(vaulterr.CodeCancelled, "PIN entry cancelled", err)
			}
			vaultlog.RegisterSecret(pin)
			err = sess.sendLine("PIN " + pin)
			vaultlog.ForgetSecret(pin)
			if err != nil {
				return nil, vaulterr.Wrap(vaulterr.CodeProtocolError, "send PIN", err)
			}
		case line == linePinAccepted:
			log.Debug("PIN accepted")
		case line == linePinRejected:
			return nil, vaulterr.New(vaulterr.CodePinRejected, "device rejected the PIN")
		case line == lineTouchRequired:
			if c.OnTouch != nil {
				c.OnTouch(c.DeviceID)
			}
			touched, err := sess.nextLine(ctx, c.touchTimeout())
			if err != nil {
				return nil, err
			}
			// re-dispatch the line that arrived after the touch wait
			if result, done, rerr := c.classifyResult(touched); done {
				return result, rerr
			}
		case strings.HasPrefix(line, lineOKPrefix):
			if result, done, rerr := c.classifyResult(line); done {
				return result, rerr
			}
		case strings.HasPrefix(line, lineErrPrefix):
			return nil, classifyErrLine(line)
		default:
			log.Debug("ignoring unrecognized plugin line: " + line)
		}
	}
}

func (c *Client) classifyResult(line string) (result []byte, done bool, err error) {
	if strings.HasPrefix(line, lineOKPrefix) {
		raw, decErr := hex.DecodeString(strings.TrimSpace(strings.TrimPrefix(line, lineOKPrefix)))
		if decErr != nil {
			return nil, true, vaulterr.Wrap(vaulterr.CodeProtocolError, "malformed OK payload", decErr)
		}
		return raw, true, nil
	}
	if strings.HasPrefix(line, lineErrPrefix) {
		return nil, true, classifyErrLine(line)
	}
	return nil, false, nil
}

func classifyErrLine(line string) error {
	reason := strings.TrimSpace(strings.TrimPrefix(line, lineErrPrefix))
	switch reason {
	case "DEVICE_MISSING":
		return vaulterr.New(vaulterr.CodeDeviceMissing, "hardware token not present")
	case "TOUCH_TIMEOUT":
		return vaulterr.New(vaulterr.CodeTouchTimeout, "touch confirmation timed out")
	case "PIN_REJECTED":
		return vaulterr.New(vaulterr.CodePinRejected, "device rejected the PIN")
	default:
		return vaulterr.New(vaulterr.CodeProtocolError, "plugin error: "+reason)
	}
}

func (c *Client) idleTimeout() time.Duration {
	if c.Settings.PTYIdleTimeout > 0 {
		return c.Settings.PTYIdleTimeout
	}
	return 10 * time.Second
}

func (c *Client) touchTimeout() time.Duration {
	if c.Settings.TouchTimeout > 0 {
		return c.Settings.TouchTimeout
	}
	return 15 * time.Second
}

// session is one spawned plugin process, read line-by-line over a PTY.
type session struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	lines  chan string
	errsCh chan error
	doneCh chan error
}

func newSession(binaryPath, deviceID string) (*session, error) {
	cmd := exec.Command(binaryPath, "--device", deviceID)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeDeviceMissing, "start identity plugin", err)
	}
	s := &session{
		cmd:    cmd,
		ptmx:   ptmx,
		lines:  make(chan string, 16),
		errsCh: make(chan error, 1),
		doneCh: make(chan error, 1),
	}
	go func() {
		scanner := bufio.NewScanner(ptmx)
		for scanner.Scan() {
			s.lines <- strings.TrimRight(scanner.Text(), "\r")
		}
		if err := scanner.Err(); err != nil {
			s.errsCh <- err
		}
		close(s.lines)
	}()
	go func() {
		s.doneCh <- cmd.Wait()
	}()
	return s, nil
}

func (s *session) sendLine(line string) error {
	_, err := s.ptmx.Write([]byte(line + "\n"))
	return err
}

func (s *session) nextLine(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			return "", vaulterr.New(vaulterr.CodeProtocolError, "identity plugin closed output unexpectedly")
		}
		return line, nil
	case err := <-s.errsCh:
		return "", vaulterr.Wrap(vaulterr.CodeProtocolError, "read plugin output", err)
	case err := <-s.doneCh:
		if err != nil {
			return "", vaulterr.Wrap(vaulterr.CodeProtocolError, "identity plugin exited", err)
		}
		return "", vaulterr.New(vaulterr.CodeProtocolError, "identity plugin exited before responding")
	case <-ctx.Done():
		return "", vaulterr.Wrap(vaulterr.CodeCancelled, "operation cancelled", ctx.Err())
	case <-time.After(timeout):
		return "", vaulterr.New(vaulterr.CodeTouchTimeout, "timed out waiting for identity plugin")
	}
}

func (s *session) expectReady(ctx context.Context, timeout time.Duration) error {
	line, err := s.nextLine(ctx, timeout)
	if err != nil {
		return err
	}
	if !readyPromptRe.MatchString(line) {
		return vaulterr.New(vaulterr.CodeProtocolError, "unexpected identity plugin banner: "+line)
	}
	return nil
}

func (s *session) close() {
	if s == nil || s.ptmx == nil {
		return
	}
	_ = s.ptmx.Close()
}

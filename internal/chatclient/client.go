// Package chatclient is the terminal front end for the GoChat TCP protocol.
// It answers the nickname request, prints every line the server sends and
// forwards typed lines.
package chatclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/Tyrowin/gochat/internal/server"
)

const (
	// DefaultAddr is the server address the client dials when none is given.
	DefaultAddr = "127.0.0.1:5555"

	quitCommand = "/quit"

	// lineOverhead covers the timestamp and separators around identity and text.
	lineOverhead = 64
)

// ErrConnectionLost is returned when the server goes away mid-session.
var ErrConnectionLost = errors.New("connection lost")

// Config controls one client session.
type Config struct {
	Addr             string
	Nickname         string
	MaxMessageLength int
	DialTimeout      time.Duration
	WriteTimeout     time.Duration

	// MaxLineBytes caps a single line received from the server. It must cover
	// a timestamp, an identity and a message, each up to the server's frame cap.
	MaxLineBytes int
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 500
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = 2*server.NewConfig().MaxFrameBytes + lineOverhead
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Run connects to the server and relays between the terminal and the
// connection until the user quits, input ends, ctx is cancelled, or the
// connection drops. A dropped connection returns ErrConnectionLost.
func Run(ctx context.Context, cfg Config, in io.Reader, out io.Writer) error {
	cfg = cfg.withDefaults()

	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			fmt.Fprintf(out, "Connection refused. Make sure the server is running on %s\n", cfg.Addr)
		} else {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
		return fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	conn := server.NewLineConn(raw, cfg.MaxLineBytes, cfg.WriteTimeout)
	defer conn.Close()

	fmt.Fprintf(out, "Connected to server at %s\n", cfg.Addr)

	lines := scanLines(in)

	nickname := strings.TrimSpace(cfg.Nickname)
	for nickname == "" {
		fmt.Fprint(out, "Choose your nickname: ")
		line, ok := <-lines
		if !ok {
			return nil
		}
		nickname = strings.TrimSpace(line)
	}

	received := make(chan error, 1)
	go func() {
		received <- receive(conn, nickname, out)
	}()

	fmt.Fprintf(out, "Type messages and press Enter to send. Type '%s' to exit.\n", quitCommand)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nDisconnecting...")
			return nil
		case err := <-received:
			fmt.Fprintln(out, "\nConnection lost!")
			return errors.Join(ErrConnectionLost, err)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.EqualFold(strings.TrimSpace(line), quitCommand) {
				fmt.Fprintln(out, "Disconnected from server.")
				return nil
			}
			if utf8.RuneCountInString(line) > cfg.MaxMessageLength {
				fmt.Fprintf(out, "ERROR: Message too long! Maximum %d characters allowed. You were disconnected.\n", cfg.MaxMessageLength)
				return nil
			}
			if line == "" {
				continue
			}
			if err := conn.Send(line); err != nil {
				fmt.Fprintln(out, "\nConnection lost!")
				return errors.Join(ErrConnectionLost, err)
			}
		}
	}
}

// receive prints server lines and answers the nickname request. It returns
// when the connection fails or closes.
func receive(conn server.Conn, nickname string, out io.Writer) error {
	for {
		line, err := conn.Receive()
		if err != nil {
			return err
		}
		if line == server.NickToken {
			if err := conn.Send(nickname); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(out, line)
	}
}

// scanLines feeds input lines into a channel that is closed at end of input.
func scanLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 4096), 1<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

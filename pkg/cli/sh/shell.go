// Package sh provides the ishell based shell driving a device.
package sh

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"sync"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/robotalks/sfslink/pkg/env"
	fx "github.com/robotalks/sfslink/pkg/framework"
	"github.com/robotalks/sfslink/pkg/uart/comm"
	"github.com/robotalks/sfslink/pkg/uart/host"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool
	Args        []string

	// Handler and Observer are attached to every connected Transport.
	Handler  comm.MessageHandler
	Observer comm.Observer

	Shell  *ishell.Shell
	Config *env.Config

	lock    sync.Mutex
	conn    *Conn
	lastErr error
}

// Conn is a connected device.
type Conn struct {
	*env.Conn
	URL    string
	Ctx    context.Context
	Cancel func()
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// ErrNotConnected is reported by commands requiring a device.
	ErrNotConnected = errors.New("not connected")

	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&ClearCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// Name implements framework.Named.
func (s *Shell) Name() string {
	return "shell"
}

// Conn returns the current connection, nil if not connected.
func (s *Shell) Conn() *Conn {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.conn
}

// Client returns the client of the current connection.
func (s *Shell) Client() (*host.Client, error) {
	conn := s.Conn()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn.Client, nil
}

// Fail reports err and remembers it as the result of evaluation.
func Fail(c *ishell.Context, err error) {
	s := ShellFrom(c)
	s.lock.Lock()
	s.lastErr = err
	s.lock.Unlock()
	c.Err(err)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context, ctx context.Context, client *host.Client)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		conn := ShellFrom(c).Conn()
		if conn == nil {
			Fail(c, ErrNotConnected)
			return
		}
		fn(c, conn.Ctx, conn.Client)
	}
}

// Print prints v as JSON in JSON mode, otherwise text is printed.
func Print(c *ishell.Context, v interface{}, text string) {
	if ShellFrom(c).OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			Fail(c, err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(text)
}

// ParseUint32 parses a decimal or 0x prefixed hex argument.
func ParseUint32(c *ishell.Context, index int, name string) (uint32, bool) {
	if index >= len(c.Args) {
		Fail(c, fmt.Errorf("%s required", name))
		return 0, false
	}
	val, err := strconv.ParseUint(c.Args[index], 0, 32)
	if err != nil {
		Fail(c, fmt.Errorf("invalid %s: %v", name, err))
		return 0, false
	}
	return uint32(val), true
}

// OptionalInt parses an optional integer argument.
func OptionalInt(c *ishell.Context, index int, name string, defVal int) (int, bool) {
	if index >= len(c.Args) {
		return defVal, true
	}
	val, err := strconv.ParseInt(c.Args[index], 0, 32)
	if err != nil || val < 0 {
		Fail(c, fmt.Errorf("invalid %s: %q", name, c.Args[index]))
		return 0, false
	}
	return int(val), true
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Connect connects to the device at linkURL, replacing the current
// connection.
func (s *Shell) Connect(linkURL string) error {
	conf := *s.Config
	if linkURL != "" {
		conf.LinkURL = linkURL
	}
	ctx, cancel := context.WithCancel(context.Background())
	envConn, err := conf.Connect(ctx)
	if err != nil {
		cancel()
		return err
	}
	envConn.Transport.Handler = s.Handler
	envConn.Transport.Observer = s.Observer
	envConn.Transport.Start(ctx)
	conn := &Conn{Conn: envConn, URL: conf.LinkURL, Ctx: ctx, Cancel: cancel}

	s.lock.Lock()
	prev := s.conn
	s.conn = conn
	s.lock.Unlock()
	if prev != nil {
		prev.close()
	}
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", conn.URL))
	return nil
}

// Disconnect disconnects current device.
func (s *Shell) Disconnect() {
	s.lock.Lock()
	conn := s.conn
	s.conn = nil
	s.lock.Unlock()
	if conn != nil {
		conn.close()
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

func (c *Conn) close() {
	c.Cancel()
	if err := c.Conn.Close(); err != nil {
		glog.Warningf("close %s: %v", c.URL, err)
	}
}

// Run implements framework.Runnable. Args are evaluated if present,
// otherwise the interactive shell runs until exit or cancellation.
func (s *Shell) Run(ctx context.Context) error {
	defer s.Disconnect()
	if s.AutoConnect && s.Config.LinkURL != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.LinkURL)
		}
		if err := s.Connect(""); err != nil {
			return fmt.Errorf("connect %q failed: %w", s.Config.LinkURL, err)
		}
	}

	if len(s.Args) > 0 {
		return fx.RunWithContext(ctx, func() error {
			if err := s.Shell.Process(s.Args...); err != nil {
				return err
			}
			s.lock.Lock()
			defer s.lock.Unlock()
			return s.lastErr
		})
	}
	if !s.Interactive {
		return errors.New("command expected")
	}
	return fx.RunWithContextCancel(ctx, s.Shell.Close, func() error {
		s.Shell.Run()
		return nil
	})
}

var (
	// ConnectCmd connects a device.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[LINK-URL]",
		Func: func(c *ishell.Context) {
			var linkURL string
			if len(c.Args) > 0 {
				linkURL = c.Args[0]
			}
			if err := ShellFrom(c).Connect(linkURL); err != nil {
				Fail(c, err)
			}
		},
	}

	// DisconnectCmd disconnects current device.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// ClearCmd discards responses nobody waited for.
	ClearCmd = ishell.Cmd{
		Name: "clear-responses",
		Help: "",
		Func: func(c *ishell.Context) {
			conn := ShellFrom(c).Conn()
			if conn == nil {
				Fail(c, ErrNotConnected)
				return
			}
			acks := conn.Transport.Acks()
			conn.Transport.Clear()
			Print(c, map[string]int{"acks": acks}, fmt.Sprintf("cleared, %d acks received", acks))
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	s := New(env.NewConfig()).WithAutoConnect(true)
	s.Args = flag.Args()
	if err := s.Run(context.Background()); err != nil {
		glog.Exit(err)
	}
}

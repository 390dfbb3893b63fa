// Package env provides the common configuration of the sfslink programs.
// Defaults can be overridden by SFS_* environment variables and then by
// command line flags.
package env

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/sfslink/pkg/link"
	"github.com/robotalks/sfslink/pkg/uart/cmds"
	"github.com/robotalks/sfslink/pkg/uart/comm"
	"github.com/robotalks/sfslink/pkg/uart/host"
)

// Config provides common options to connect to a device.
type Config struct {
	// LinkURL locates the device, e.g. /dev/ttyACM0, tcp://host:port.
	LinkURL string
	Link    link.Options

	Timeout        time.Duration
	PollInterval   time.Duration
	WriteChunkSize int
	ReadChunkSize  int

	// MQTTURL enables the advertisement relay when not empty.
	// e.g. mqtt://host:port/topic-prefix/
	MQTTURL string
	// GatewayID identifies this host in relayed topics, machine id if empty.
	GatewayID string
	// MetricsAddr enables the /metrics endpoint when not empty.
	MetricsAddr string
}

var defaultConfig = Config{
	LinkURL:        "tcp://localhost:7070",
	Link:           link.DefaultOptions(),
	Timeout:        host.DefaultTimeout,
	PollInterval:   comm.DefaultPollInterval,
	WriteChunkSize: host.DefaultWriteChunkSize,
	ReadChunkSize:  host.DefaultReadChunkSize,
}

func init() {
	loadEnv(&defaultConfig, os.Getenv)
}

func loadEnv(c *Config, getenv func(string) string) {
	if val := getenv("SFS_LINK"); val != "" {
		c.LinkURL = val
	}
	envInt(getenv, "SFS_BAUD", &c.Link.BaudRate)
	envInt(getenv, "SFS_DATA_BITS", &c.Link.DataBits)
	envDuration(getenv, "SFS_TIMEOUT", &c.Timeout)
	envDuration(getenv, "SFS_POLL_INTERVAL", &c.PollInterval)
	envInt(getenv, "SFS_WRITE_CHUNK", &c.WriteChunkSize)
	envInt(getenv, "SFS_READ_CHUNK", &c.ReadChunkSize)
	if val := getenv("SFS_MQTT_URL"); val != "" {
		c.MQTTURL = val
	}
	if val := getenv("SFS_GATEWAY_ID"); val != "" {
		c.GatewayID = val
	}
	if val := getenv("SFS_METRICS_ADDR"); val != "" {
		c.MetricsAddr = val
	}
}

func envInt(getenv func(string) string, name string, out *int) {
	val := getenv(name)
	if val == "" {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		glog.Warningf("ignore invalid %s=%q: %v", name, val, err)
		return
	}
	*out = n
}

func envDuration(getenv func(string) string, name string, out *time.Duration) {
	val := getenv(name)
	if val == "" {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		glog.Warningf("ignore invalid %s=%q: %v", name, val, err)
		return
	}
	*out = d
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	defaultConfig.RegisterFlags(flag.CommandLine)
}

// RegisterFlags registers flags bound to c on fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.LinkURL, "link", c.LinkURL, "Device link URL: serial device path, serial://, tcp:// or ws://.")
	fs.IntVar(&c.Link.BaudRate, "baud", c.Link.BaudRate, "Serial baud rate.")
	fs.IntVar(&c.Link.DataBits, "data-bits", c.Link.DataBits, "Serial data bits.")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "Response timeout.")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "Response store polling interval.")
	fs.IntVar(&c.WriteChunkSize, "write-chunk", c.WriteChunkSize, "Chunk size of in-parts writes.")
	fs.IntVar(&c.ReadChunkSize, "read-chunk", c.ReadChunkSize, "Chunk size of in-parts reads.")
	fs.StringVar(&c.MQTTURL, "mqtt", c.MQTTURL, "MQTT broker URL to relay advertisements to.")
	fs.StringVar(&c.GatewayID, "gateway-id", c.GatewayID, "Gateway ID in relayed topics, machine id by default.")
	fs.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "Listen address of the metrics endpoint.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Validate checks the config values.
func (c *Config) Validate() error {
	if _, err := link.Parse(c.LinkURL, c.Link); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid timeout %v", c.Timeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid poll interval %v", c.PollInterval)
	}
	if c.WriteChunkSize <= 0 || c.WriteChunkSize > cmds.MaxPayloadLen {
		return fmt.Errorf("write chunk size must be within 1..%d", cmds.MaxPayloadLen)
	}
	if c.ReadChunkSize <= 0 || c.ReadChunkSize > cmds.MaxPayloadLen {
		return fmt.Errorf("read chunk size must be within 1..%d", cmds.MaxPayloadLen)
	}
	return nil
}

// Gateway returns GatewayID or the machine id.
func (c *Config) Gateway() (string, error) {
	if c.GatewayID != "" {
		return c.GatewayID, nil
	}
	return MachineID()
}

// Conn is an established connection to a device.
type Conn struct {
	Transport *comm.Transport
	Client    *host.Client
}

// Close closes the transport and the link.
func (c *Conn) Close() error {
	return c.Transport.Close()
}

// Connect opens the link and creates a Transport and a Client on it. The
// receive loop is not started: call Transport.Start or run Transport.
func (c *Config) Connect(ctx context.Context) (*Conn, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	rw, err := link.Open(ctx, c.LinkURL, c.Link)
	if err != nil {
		return nil, err
	}
	glog.Infof("connected to %s", c.LinkURL)
	return c.NewConn(rw), nil
}

// NewConn creates a Transport and a Client over an opened stream.
func (c *Config) NewConn(rw io.ReadWriter) *Conn {
	t := comm.NewTransport(rw)
	t.PollInterval = c.PollInterval
	client := host.NewClient(t)
	client.Timeout = c.Timeout
	client.WriteChunkSize = c.WriteChunkSize
	client.ReadChunkSize = c.ReadChunkSize
	return &Conn{Transport: t, Client: client}
}

package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/airfryer/pkg/l0/comm"
	"github.com/robotalks/airfryer/pkg/oven"
	"github.com/robotalks/airfryer/pkg/sim"
)

// Shell provides ishell backed interactive shell over the node link.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoOpen    bool
	// Timeout bounds a single operation.
	Timeout time.Duration

	Shell  *ishell.Shell
	Config *oven.Config
	Conn   *Conn
}

// Conn is an opened link to the node.
type Conn struct {
	Device string
	Port   comm.Port
	Client *comm.Client
}

// Op is a shell operation against the node. Run returns the value to print,
// nil prints OK.
type Op struct {
	Name    string
	Aliases []string
	Help    string
	// Offline ops don't need an opened link.
	Offline bool
	// Unbounded ops aren't limited by Shell.Timeout.
	Unbounded bool
	Run     func(ctx context.Context, s *Shell, args []string) (interface{}, error)
}

const (
	shellKey     = "$shell"
	closedPrompt = "[closed] > "
)

// DefaultTimeout bounds an operation when Shell.Timeout is not set.
const DefaultTimeout = 5 * time.Second

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&OpenCmd,
		&CloseCmd,
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

// AddOps registers operations as commands.
func AddOps(ops ...*Op) {
	for _, op := range ops {
		AddCmds(op.Cmd())
	}
}

// Cmd wraps the operation into an ishell command.
func (op *Op) Cmd() *ishell.Cmd {
	fn := func(c *ishell.Context) {
		Do(c, op)
	}
	if !op.Offline {
		fn = MustBeOpen(fn)
	}
	return &ishell.Cmd{
		Name:    op.Name,
		Aliases: op.Aliases,
		Help:    op.Help,
		Func:    fn,
	}
}

// New creates a new shell.
func New(conf *oven.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Timeout:     DefaultTimeout,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(closedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeOpen wraps command func requires an opened link.
func MustBeOpen(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(fmt.Errorf("link not open"))
			return
		}
		fn(c)
	}
}

// Do runs an operation and prints the result.
func Do(c *ishell.Context, op *Op) {
	s := ShellFrom(c)
	out, err := s.Exec(context.Background(), op, c.Args)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(out)
}

// Exec runs an operation and formats the result.
func (s *Shell) Exec(ctx context.Context, op *Op, args []string) (string, error) {
	if !op.Offline && s.Conn == nil {
		return "", fmt.Errorf("%s: link not open", op.Name)
	}
	if !op.Unbounded {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := op.Run(ctx, s, args)
	if err != nil {
		if comm.IsProtocolError(err) {
			return "", fmt.Errorf("%s: %s: %w", op.Name, comm.ProtocolErrorKind(err), err)
		}
		return "", fmt.Errorf("%s: %w", op.Name, err)
	}
	if s.OutputJSON {
		if res == nil {
			res = map[string]bool{"ok": true}
		}
		out, err := json.Marshal(res)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	if res == nil {
		return "OK", nil
	}
	return fmt.Sprint(res), nil
}

// Client returns the client of the opened link.
func (s *Shell) Client() *comm.Client {
	if s.Conn == nil {
		return nil
	}
	return s.Conn.Client
}

// SimDevice is the device name opening a simulated node.
const SimDevice = "sim"

// Open opens the serial device.
func (s *Shell) Open(device string) error {
	conf := s.Config.Serial
	if device != "" {
		conf.Device = device
	} else if s.Config.Simulate {
		conf.Device = SimDevice
	}
	if conf.Device == SimDevice {
		node := sim.NewNode(sim.NewOven(sim.DefaultThermalConfig()), s.Config.SimReference)
		node.Key = s.Config.Key
		s.Attach(SimDevice, node)
		return nil
	}
	port, err := comm.OpenSerial(conf)
	if err != nil {
		return err
	}
	s.Attach(conf.Device, port)
	return nil
}

// Attach uses an opened port as the link.
func (s *Shell) Attach(name string, port comm.Port) {
	s.Close()
	client := comm.NewClient(port)
	client.Key = s.Config.Key
	client.Timeout = s.Config.ResponseTimeout
	client.WriteRetries = s.Config.WriteRetries
	s.Conn = &Conn{Device: name, Port: port, Client: client}
	s.setPrompt(fmt.Sprintf("%s > ", name))
}

// Close closes the current link.
func (s *Shell) Close() {
	if s.Conn != nil {
		s.Conn.Port.Close()
		s.Conn = nil
		s.setPrompt(closedPrompt)
	}
}

func (s *Shell) setPrompt(prompt string) {
	if s.Shell != nil {
		s.Shell.SetPrompt(prompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoOpen {
		if s.Interactive {
			s.Shell.Printf("Opening %s ...\n", s.Config.Serial.Device)
		}
		if err := s.Open(""); err != nil {
			log.Fatalf("open %q failed: %v", s.Config.Serial.Device, err)
		}
	}
	defer s.Close()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// OpenCmd opens the serial link.
	OpenCmd = ishell.Cmd{
		Name:    "open",
		Aliases: []string{"o"},
		Help:    "[DEVICE]",
		Func: func(c *ishell.Context) {
			var device string
			if len(c.Args) > 0 {
				device = c.Args[0]
			}
			if err := ShellFrom(c).Open(device); err != nil {
				c.Err(err)
			}
		},
	}

	// CloseCmd closes the serial link.
	CloseCmd = ishell.Cmd{
		Name: "close",
		Help: "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Close()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	s := New(oven.NewConfig())
	s.AutoOpen = true
	s.Run(flag.Args()...)
}

package commands

import (
	"bufio"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skycoin/skyarena/pkg/node"
	"github.com/skycoin/skyarena/pkg/util/pathutil"
)

const shutdownTimeout = 10 * time.Second

type runFlags struct {
	carrier  string
	address  string
	username string
	metrics  string
}

var runf runFlags

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&runf.carrier, "carrier", "c", "", "carrier type, udp or websocket. Overrides the config")
	cmd.Flags().StringVarP(&runf.address, "address", "a", "", "address to host on or connect to. Overrides the config")
	cmd.Flags().StringVarP(&runf.username, "username", "u", "", "username shown to other players. Overrides the config")
	cmd.Flags().StringVarP(&runf.metrics, "metrics", "m", "", "address to serve prometheus metrics on. Overrides the config")
}

var hostCmd = &cobra.Command{
	Use:   "host [config-path]",
	Short: "Hosts a chat room",
	Args:  cobra.MaximumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		run(args, (*node.Node).Host)
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect [config-path]",
	Short: "Joins a chat room",
	Args:  cobra.MaximumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		run(args, (*node.Node).Connect)
	},
}

func init() {
	addRunFlags(hostCmd)
	addRunFlags(connectCmd)
}

func readConfig(args []string) *node.Config {
	path := pathutil.FindConfigPath(args, 0, configEnv, pathutil.NodeDefaults())
	if path == "" {
		cfg.logger.Info("No config found; using defaults")
		return node.DefaultConfig()
	}

	conf, err := node.ReadConfig(path)
	if err != nil {
		cfg.logger.Fatalf("Failed to read config: %s", err)
	}
	return conf
}

func (f runFlags) apply(conf *node.Config) {
	if f.carrier != "" {
		conf.Carrier = f.carrier
	}
	if f.address != "" {
		conf.Address = f.address
	}
	if f.username != "" {
		conf.Username = f.username
	}
	if f.metrics != "" {
		conf.Metrics.Address = f.metrics
	}
	if cfg.logLevel != "" {
		conf.LogLevel = cfg.logLevel
	}
}

func run(args []string, start func(*node.Node) error) {
	conf := readConfig(args)
	runf.apply(conf)

	n, err := node.NewNode(conf, cfg.masterLogger, os.Stdout)
	if err != nil {
		cfg.logger.Fatal("Failed to initialize node: ", err)
	}
	if err := start(n); err != nil {
		cfg.logger.Fatal("Failed to start node: ", err)
	}

	lines := make(chan string)
	go readLines(lines)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}...)

	for stop := false; !stop; {
		select {
		case line, ok := <-lines:
			if !ok {
				stop = true
				break
			}
			if err := n.Say(line); err != nil {
				cfg.logger.WithError(err).Warn("Failed to send")
			}
		case <-n.Done():
			stop = true
		case <-sigs:
			stop = true
		}
	}

	go func() {
		select {
		case <-time.After(shutdownTimeout):
			cfg.logger.Fatal("Timeout reached: terminating")
		case s := <-sigs:
			cfg.logger.Fatalf("Received signal %s: terminating", s)
		}
	}()

	if err := n.Close(); err != nil && err != node.ErrStopped {
		cfg.logger.Fatal("Failed to close node: ", err)
	}
}

// readLines sends every non-empty line of stdin to lines.
func readLines(lines chan<- string) {
	defer close(lines)

	s := bufio.NewScanner(os.Stdin)
	for s.Scan() {
		if line := strings.TrimSpace(s.Text()); line != "" {
			lines <- line
		}
	}
}

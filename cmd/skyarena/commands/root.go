package commands

import (
	"fmt"
	"io/ioutil"
	"log"
	"log/syslog"
	"net/http"
	_ "net/http/pprof" // no_lint

	"github.com/pkg/profile"
	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"
)

const configEnv = "SKYARENA_CONFIG"

// Version is the application version.
var Version = "0.1.0"

type rootCfg struct {
	syslogAddr  string
	tag         string
	logLevel    string
	profileMode string
	port        string

	profileStop  func()
	logger       *logging.Logger
	masterLogger *logging.MasterLogger
}

var cfg = &rootCfg{}

var rootCmd = &cobra.Command{
	Use:   "skyarena",
	Short: "Terminal multiplayer chat over UDP or WebSocket",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		cfg.startProfiler().startLogger()
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		cfg.profileStop()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfg.syslogAddr, "syslog", "", "none", "syslog server address. E.g. localhost:514")
	rootCmd.PersistentFlags().StringVarP(&cfg.tag, "tag", "", "skyarena", "logging tag")
	rootCmd.PersistentFlags().StringVarP(&cfg.logLevel, "log-level", "", "", "overrides the log level of the config")
	rootCmd.PersistentFlags().StringVarP(&cfg.profileMode, "profile", "p", "none", "enable profiling with pprof. Mode:  none or one of: [cpu, mem, mutex, block, trace, http]")
	rootCmd.PersistentFlags().StringVarP(&cfg.port, "port", "", "6060", "port for http-mode of pprof")

	rootCmd.AddCommand(hostCmd, connectCmd, genConfigCmd)
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func (cfg *rootCfg) startProfiler() *rootCfg {
	var option func(*profile.Profile)
	switch cfg.profileMode {
	case "none":
		cfg.profileStop = func() {}
		return cfg
	case "http":
		go func() {
			log.Println(http.ListenAndServe(fmt.Sprintf("localhost:%v", cfg.port), nil))
		}()
		cfg.profileStop = func() {}
		return cfg
	case "cpu":
		option = profile.CPUProfile
	case "mem":
		option = profile.MemProfile
	case "mutex":
		option = profile.MutexProfile
	case "block":
		option = profile.BlockProfile
	case "trace":
		option = profile.TraceProfile
	default:
		log.Fatalf("invalid profile mode %q", cfg.profileMode)
	}
	cfg.profileStop = profile.Start(profile.ProfilePath("./logs/"+cfg.tag), option).Stop
	return cfg
}

func (cfg *rootCfg) startLogger() *rootCfg {
	cfg.masterLogger = logging.NewMasterLogger()
	cfg.logger = cfg.masterLogger.PackageLogger(cfg.tag)

	if cfg.syslogAddr != "none" {
		hook, err := logrus_syslog.NewSyslogHook("udp", cfg.syslogAddr, syslog.LOG_INFO, cfg.tag)
		if err != nil {
			cfg.logger.Error("Unable to connect to syslog daemon:", err)
		} else {
			logging.AddHook(hook)
			cfg.masterLogger.AddHook(hook)
			cfg.masterLogger.Out = ioutil.Discard
		}
	}
	return cfg
}

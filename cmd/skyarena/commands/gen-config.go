package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skycoin/skyarena/pkg/node"
	"github.com/skycoin/skyarena/pkg/util/pathutil"
)

var (
	output        string
	replace       bool
	configLocType = pathutil.WorkingDirLoc
)

func init() {
	genConfigCmd.Flags().StringVarP(&output, "output", "o", "", "path of output config file. Uses default of 'type' flag if unspecified.")
	genConfigCmd.Flags().BoolVarP(&replace, "replace", "r", false, "whether to allow rewrite of a file that already exists.")
	genConfigCmd.Flags().VarP(&configLocType, "type", "t", fmt.Sprintf("config generation mode. Valid values: %v", pathutil.AllConfigLocationTypes()))
}

var genConfigCmd = &cobra.Command{
	Use:   "gen-config",
	Short: "Generates a config file",
	PreRun: func(_ *cobra.Command, _ []string) {
		var err error
		if output == "" {
			if output, err = pathutil.NodeDefaults().Get(configLocType); err != nil {
				cfg.logger.WithError(err).Fatalln("invalid config type")
			}
			cfg.logger.Infof("No 'output' set; using default path: %s", output)
		}
		if output, err = filepath.Abs(output); err != nil {
			cfg.logger.WithError(err).Fatalln("invalid output provided")
		}
	},
	Run: func(_ *cobra.Command, _ []string) {
		var conf *node.Config
		switch configLocType {
		case pathutil.WorkingDirLoc:
			conf = node.DefaultConfig()
		case pathutil.HomeLoc:
			conf = dataDirConfig(pathutil.DataDir())
		case pathutil.LocalLoc:
			conf = dataDirConfig("/usr/local/skycoin/skyarena")
		default:
			cfg.logger.Fatalln("invalid config type:", configLocType)
		}
		if err := pathutil.WriteJSONConfig(conf, output, replace); err != nil {
			cfg.logger.Fatalln(err)
		}
	},
}

func dataDirConfig(dir string) *node.Config {
	c := node.DefaultConfig()
	c.Transport.LogStore.Type = node.FileStore
	c.Transport.LogStore.Location = filepath.Join(dir, "transport_logs")
	c.UserInfoStore.Type = node.BoltDBStore
	c.UserInfoStore.Location = filepath.Join(dir, "users.db")
	return c
}

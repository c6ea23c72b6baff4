package pathutil

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("pathutil")

// ConfigLocationType describes a config path's location type.
type ConfigLocationType string

const (
	// WorkingDirLoc represents the default working directory location for a configuration file.
	WorkingDirLoc = ConfigLocationType("WD")

	// HomeLoc represents the default home folder location for a configuration file.
	HomeLoc = ConfigLocationType("HOME")

	// LocalLoc represents the default /usr/local location for a configuration file.
	LocalLoc = ConfigLocationType("LOCAL")
)

// String implements fmt.Stringer for ConfigLocationType.
func (t ConfigLocationType) String() string {
	return string(t)
}

// Set implements pflag.Value for ConfigLocationType.
func (t *ConfigLocationType) Set(s string) error {
	*t = ConfigLocationType(s)
	return nil
}

// Type implements pflag.Value for ConfigLocationType.
func (t ConfigLocationType) Type() string {
	return "pathutil.ConfigLocationType"
}

// AllConfigLocationTypes returns all valid config location types.
func AllConfigLocationTypes() []ConfigLocationType {
	return []ConfigLocationType{
		WorkingDirLoc,
		HomeLoc,
		LocalLoc,
	}
}

// ConfigPaths contains a map of configuration paths, based on ConfigLocationTypes.
type ConfigPaths map[ConfigLocationType]string

// String implements fmt.Stringer for ConfigPaths.
func (dp ConfigPaths) String() string {
	raw, err := json.MarshalIndent(dp, "", "\t")
	if err != nil {
		log.Fatalf("cannot marshal default paths: %s", err.Error())
	}
	return string(raw)
}

// Get obtains a path stored under given configuration location type.
func (dp ConfigPaths) Get(cpType ConfigLocationType) (string, error) {
	if path, ok := dp[cpType]; ok {
		return path, nil
	}
	return "", &InvalidLocationError{Type: cpType}
}

// InvalidLocationError is returned for an unknown ConfigLocationType.
type InvalidLocationError struct {
	Type ConfigLocationType
}

func (e *InvalidLocationError) Error() string {
	raw, _ := json.Marshal(AllConfigLocationTypes()) //nolint:errcheck
	return "invalid config type '" + string(e.Type) + "' provided, valid types: " + string(raw)
}

// ConfigFileName is the file name of the skyarena config.
const ConfigFileName = "skyarena-config.json"

// NodeDefaults returns the default config paths for skyarena.
func NodeDefaults() ConfigPaths {
	paths := make(ConfigPaths)
	if wd, err := os.Getwd(); err == nil {
		paths[WorkingDirLoc] = filepath.Join(wd, ConfigFileName)
	}
	paths[HomeLoc] = filepath.Join(HomeDir(), ".skycoin", "skyarena", ConfigFileName)
	paths[LocalLoc] = filepath.Join("/usr/local/skycoin/skyarena", ConfigFileName)
	return paths
}

// FindConfigPath is used by a service to find a config file path in the following order:
// - From CLI argument.
// - From ENV.
// - From a list of default paths.
// If argsIndex < 0, searching from CLI arguments does not take place.
// An empty string is returned if no config file exists.
func FindConfigPath(args []string, argsIndex int, env string, defaults ConfigPaths) string {
	if argsIndex >= 0 && len(args) > argsIndex {
		path := args[argsIndex]
		log.Infof("using args[%d] as config path: %s", argsIndex, path)
		return path
	}
	if env != "" {
		if path, ok := os.LookupEnv(env); ok {
			log.Infof("using $%s as config path: %s", env, path)
			return path
		}
	}
	log.Debugf("config path is not explicitly specified, trying default paths...")
	for i, cpType := range []ConfigLocationType{WorkingDirLoc, HomeLoc, LocalLoc} {
		path, ok := defaults[cpType]
		if !ok {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			log.Debugf("- [%d/%d] '%s' cannot be accessed: %s", i+1, len(defaults), path, err.Error())
		} else {
			log.Debugf("- [%d/%d] '%s' is found", i+1, len(defaults), path)
			log.Infof("using fallback config path: %s", path)
			return path
		}
	}
	log.Debugf("config not found in any of the following paths: %s", defaults.String())
	return ""
}

// WriteJSONConfig is used by config file generators.
// 'output' specifies the path to save generated config files.
// 'replace' is true if replacing files is allowed.
func WriteJSONConfig(conf interface{}, output string, replace bool) error {
	raw, err := json.MarshalIndent(conf, "", "\t")
	if err != nil {
		return err
	}
	if _, err := os.Stat(output); !replace && err == nil {
		return &os.PathError{Op: "write config", Path: output, Err: os.ErrExist}
	}
	if _, err := EnsureDir(filepath.Dir(output)); err != nil {
		return err
	}
	if err := AtomicWriteFile(output, raw); err != nil {
		return err
	}
	log.Infof("Wrote %d bytes to %s", len(raw), output)
	return nil
}

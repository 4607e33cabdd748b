package cmds

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/convocore/pkg/config"
	"github.com/go-go-golems/convocore/pkg/logging"
)

// viperKey is the flag annotation naming the settings key a flag overrides.
const viperKey = "viper-key"

var settings config.Settings

func AddRootFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	f.String("config", "", "Config file (default: convocore.yaml in $HOME/.config/convocore or .)")
	f.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	f.String("log-format", logging.FormatText, "Log format (text, json)")
	bindFlag(f, "log-level", "log.level")
	bindFlag(f, "log-format", "log.format")
}

func bindFlag(f *pflag.FlagSet, name, key string) {
	cobra.CheckErr(f.SetAnnotation(name, viperKey, []string{key}))
}

// LoadSettings resolves settings for cmd from the config file, the environment and every
// annotated flag, then initializes logging.
func LoadSettings(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	v, err := config.NewViper(path)
	if err != nil {
		return err
	}
	var bindErr error
	cmd.Flags().VisitAll(func(fl *pflag.Flag) {
		keys := fl.Annotations[viperKey]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(keys[0], fl)
	})
	if bindErr != nil {
		return errors.Wrap(bindErr, "bind flags")
	}
	return load(v)
}

func load(v *viper.Viper) error {
	s, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := logging.Init(s.Log, os.Stderr); err != nil {
		return err
	}
	settings = s
	return nil
}

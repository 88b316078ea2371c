package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type flagBinding struct {
	key  string
	flag *pflag.Flag
}

var flagBindings []flagBinding

// bindFlags registers each flag for its configuration key, so a flag given
// on the command line wins over file and environment values. The bindings
// are applied to viper by initConfig.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := flags.Lookup(name); f != nil {
			flagBindings = append(flagBindings, flagBinding{key: key, flag: f})
		}
	}
}

func applyFlagBindings() {
	for _, b := range flagBindings {
		viper.BindPFlag(b.key, b.flag)
	}
}

// addServerFlags adds the dev server overrides to cmd.
func addServerFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntP("port", "p", 3000, "Port to serve on")
	flags.String("host", "localhost", "Host to bind to")
	flags.String("proxy", "http://quelle.test", "Backend to proxy, empty to serve the output directory")
	flags.Bool("open", false, "Open the browser once serving")

	bindFlags(flags, map[string]string{
		"port":  "server.port",
		"host":  "server.host",
		"proxy": "server.proxy",
		"open":  "server.open",
	})
}

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"url-time/internal/config"
	"url-time/internal/version"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "urltime",
		Short:         "Keep-alive URL visitor with a live websocket log.",
		Version:       version.Current().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	flags := cmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "process config file (default ./urltime.yaml)")
	flags.String("settings", "config.json", "visiting parameters JSON file")
	flags.String("web-root", ".", "directory holding the UI assets")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.IntSlice("ports", nil, "candidate HTTP ports, tried in order")
	_ = v.BindPFlag("app.config_file", flags.Lookup("settings"))
	_ = v.BindPFlag("app.web_root", flags.Lookup("web-root"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("http.ports", flags.Lookup("ports"))

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version.Current().String())
		},
	}
}

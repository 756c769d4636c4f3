// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/z5labs/oneshot"
	"github.com/z5labs/oneshot/config"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// flag name to config key
var flagKeys = map[string]string{
	"addr":       "http.addr",
	"yamux-addr": "yamux.addr",
	"index":      "routes.index",
	"log-level":  "log.level",
}

func newCommand() *cobra.Command {
	v := viper.New()

	var (
		cfgFile string
		trace   bool
	)
	cmd := &cobra.Command{
		Use:          "serv",
		Short:        "Serve the example routes over http and yamux",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var bindErr error
			cmd.Flags().Visit(func(f *pflag.Flag) {
				k, ok := flagKeys[f.Name]
				if !ok || bindErr != nil {
					return
				}
				bindErr = v.BindPFlag(k, f)
			})
			if bindErr != nil {
				return bindErr
			}

			srcs := []config.Source{}
			if cfgFile != "" {
				f, err := os.Open(cfgFile)
				if err != nil {
					return err
				}
				srcs = append(srcs, config.FromYaml(f))
			}
			srcs = append(
				srcs,
				config.FromEnv(config.Prefix("ONESHOT_")),
				config.FromViper(v),
			)

			opts := []oneshot.Option{oneshot.Sources(srcs...)}
			if trace {
				exp, err := stdouttrace.New(stdouttrace.WithWriter(cmd.ErrOrStderr()))
				if err != nil {
					return err
				}
				tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
				opts = append(opts, oneshot.TracerProvider(tp), oneshot.PostRun(tp.Shutdown))
			}

			return oneshot.Run(cmd.Context(), oneshot.RegistrarFunc(register), opts...)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&cfgFile, "config", "c", "", "yaml or json config file")
	fs.BoolVar(&trace, "trace", false, "print request traces to stderr")
	fs.String("addr", "", "http listen address")
	fs.String("yamux-addr", "", "yamux listen address, empty disables yamux")
	fs.String("index", "", "route index: linear, sorted or radix")
	fs.String("log-level", "", "debug, info, warn or error")
	return cmd
}

func main() {
	err := newCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

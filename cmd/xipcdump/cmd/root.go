package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/trickstertwo/xipc"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"
)

const envPrefix = "XIPC"

// Execute runs the root command and exits non-zero on error.
func Execute() {
	// CheckErr prints formatted error message, if there is any, and exits
	cobra.CheckErr(NewRootCmd().Execute())
}

// NewRootCmd builds the command tree. Each call gets fresh flag state.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	rootCmd := &cobra.Command{
		Use:   "xipcdump",
		Short: "Inspect and produce event messages",
		Long: `xipcdump reads and writes event messages in the native IPC wire format.
The wire carries no layout information, so the flags below must match the producer.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v)
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	def := xipc.DefaultLayout()
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (json, yaml or toml)")
	pf.Int("size-width", def.SizeWidth, "width in bytes of length fields (4 or 8)")
	pf.Int("wchar-width", def.WCharWidth, "width in bytes of one wide character (2 or 4)")
	pf.String("byte-order", "native", "byte order: little, big or native")
	pf.Uint64("max-field-len", def.MaxFieldLen, "largest accepted field in bytes (0 = no cap)")
	pf.Int("max-params", def.MaxParams, "largest accepted parameter count (0 = no cap)")
	pf.BoolP("verbose", "v", false, "log progress to stderr")

	for _, name := range []string{"config", "size-width", "wchar-width", "byte-order", "max-field-len", "max-params", "verbose"} {
		_ = v.BindPFlag(strings.ReplaceAll(name, "-", "_"), pf.Lookup(name))
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	rootCmd.AddCommand(newDecodeCmd(v), newEncodeCmd(v))
	return rootCmd
}

// loadConfig merges the optional config file under flags and environment.
func loadConfig(v *viper.Viper) error {
	path := v.GetString("config")
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "yml":
		ext = "yaml"
	case "json", "yaml", "toml":
	default:
		ext = "json"
	}
	v.SetConfigType(ext)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// layoutFrom resolves the wire layout from flags, XIPC_* variables and the
// config file, in that order of precedence.
func layoutFrom(v *viper.Viper) (xipc.Layout, error) {
	if _, err := xipc.ParseByteOrder(v.GetString("byte_order")); err != nil {
		return xipc.Layout{}, err
	}
	l := xipc.LayoutFromMap(map[string]any{
		"size_width":    v.GetInt("size_width"),
		"wchar_width":   v.GetInt("wchar_width"),
		"byte_order":    v.GetString("byte_order"),
		"max_field_len": v.GetUint64("max_field_len"),
		"max_params":    v.GetInt("max_params"),
	})
	return l, l.Validate()
}

func newLogger(cmd *cobra.Command) *xlog.Logger {
	return zerolog.Use(zerolog.Config{
		MinLevel:          xlog.LevelDebug,
		Console:           true,
		ConsoleTimeFormat: time.RFC3339,
	}).With(xlog.Str("cmd", cmd.Name()))
}

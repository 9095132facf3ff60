package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/trickstertwo/xipc"
)

func newDecodeCmd(v *viper.Viper) *cobra.Command {
	var format string
	decodeCmd := &cobra.Command{
		Use:   "decode [file|-]",
		Short: "Print every message in a captured stream",
		Long: `Decode reads messages written back to back, from a file or from stdin when
the argument is "-" or missing, and prints one line per message.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q: want text or json", format)
			}
			layout, err := layoutFrom(v)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			n, err := decodeStream(in, cmd.OutOrStdout(), layout, format)
			if v.GetBool("verbose") {
				newLogger(cmd).Debug().Msg(fmt.Sprintf("decoded %d messages", n))
			}
			return err
		},
	}
	decodeCmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text or json")
	return decodeCmd
}

func decodeStream(in io.Reader, out io.Writer, layout xipc.Layout, format string) (int, error) {
	sr, err := xipc.NewStreamReader(in, layout)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(out)
	for n := 0; ; n++ {
		msg, err := sr.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("message %d: %w", n, err)
		}
		if format == "json" {
			err = enc.Encode(msg)
		} else {
			_, err = fmt.Fprintln(out, msg.String())
		}
		if err != nil {
			return n, err
		}
	}
}

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/trickstertwo/xipc"
)

func newEncodeCmd(v *viper.Viper) *cobra.Command {
	var (
		event, sender, out string
		params             []string
		appendOut          bool
	)
	encodeCmd := &cobra.Command{
		Use:   "encode",
		Short: "Write one message",
		Long: `Encode builds a message from flags and writes it to stdout or --out.
Parameters are given in order as type:value, for example
  --param int:42 --param float:3.5 --param str:hi --param wstr:héllo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := layoutFrom(v)
			if err != nil {
				return err
			}
			msg := xipc.NewEventMessage(event)
			msg.Sender = sender
			for _, p := range params {
				if err := pushParam(msg, p); err != nil {
					return err
				}
			}

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
				if appendOut {
					flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
				}
				f, err := os.OpenFile(out, flags, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := layout.WriteMessage(w, msg); err != nil {
				return err
			}
			if v.GetBool("verbose") {
				newLogger(cmd).Debug().Msg(fmt.Sprintf("wrote %d bytes: %s", msg.Size(layout), msg))
			}
			return nil
		},
	}
	flags := encodeCmd.Flags()
	flags.StringVarP(&event, "event", "e", "", "event name")
	flags.StringVarP(&sender, "sender", "s", "", "sender")
	flags.StringArrayVarP(&params, "param", "p", nil, "parameter as type:value (int, float, str, wstr), repeatable")
	flags.StringVarP(&out, "out", "o", "", "output file (default stdout)")
	flags.BoolVar(&appendOut, "append", false, "append to --out instead of truncating it")
	_ = encodeCmd.MarkFlagRequired("event")
	return encodeCmd
}

// pushParam parses "type:value" and appends it to msg.
func pushParam(msg *xipc.EventMessage, s string) error {
	name, value, ok := strings.Cut(s, ":")
	if !ok {
		return fmt.Errorf("param %q: want type:value", s)
	}
	t, err := xipc.ParseParamType(name)
	if err != nil {
		return fmt.Errorf("param %q: %w", s, err)
	}
	switch t {
	case xipc.TypeInt:
		n, err := strconv.ParseInt(value, 0, 32)
		if err != nil {
			return fmt.Errorf("param %q: %w", s, err)
		}
		msg.PushInt(int32(n))
	case xipc.TypeFloat:
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return fmt.Errorf("param %q: %w", s, err)
		}
		msg.PushFloat(float32(f))
	case xipc.TypeStr:
		msg.PushString(value)
	case xipc.TypeWStr:
		msg.PushWString([]rune(value))
	}
	return nil
}

// Command xipcdump encodes and decodes event messages on the native wire
// format, for inspecting captured IPC streams.
package main

import "github.com/trickstertwo/xipc/cmd/xipcdump/cmd"

func main() {
	cmd.Execute()
}

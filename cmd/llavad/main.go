// Command llavad serves and drives local multimodal chat over GGUF models.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "llavad:", err)
		os.Exit(1)
	}
}

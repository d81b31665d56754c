// Command sagactl runs the checkout saga scenarios and serves the saga
// admin API.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

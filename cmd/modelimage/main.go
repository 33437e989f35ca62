package main

import (
	"fmt"
	"os"

	"kubegems.io/modelimage/cmd/modelimage/image"
)

const ErrExitCode = 1

func main() {
	if err := image.NewModelImageCmd().Execute(); err != nil {
		fmt.Println("Error:", err.Error())
		os.Exit(ErrExitCode)
	}
}

package main

import (
	"os"

	"github.com/danielpatrickdp/intersection-controller/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

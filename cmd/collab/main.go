package main

import (
	"github.com/mikeydub/go-collab/client/cmd"
)

func main() {
	cmd.Execute()
}

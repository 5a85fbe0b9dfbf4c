package main

import (
	"os"
	_ "time/tzdata"

	"nicotsm/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

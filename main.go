package main

import (
	"os"

	"github.com/AnyUserName/webpconv/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

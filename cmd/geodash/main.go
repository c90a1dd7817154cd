package main

import "github.com/pfrederiksen/geodash/internal/cli"

var version = "dev"

func main() {
	cli.Version = version
	cli.Execute()
}

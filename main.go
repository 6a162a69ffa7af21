package main

import "vaultctl/internal/cli"

func main() {
	cli.Execute()
}

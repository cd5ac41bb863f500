package main

import "rate-oracle-updater/internal/cli"

func main() {
	cli.Execute()
}

package main

import "unirate/internal/cli"

func main() {
	cli.Execute()
}

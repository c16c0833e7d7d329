package main

import "case-mail-router/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/topup-systems/topup/internal/cli"

func main() {
	cli.Execute()
}

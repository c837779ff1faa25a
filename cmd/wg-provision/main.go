package main

import "github.com/arvelin/wg-provision/cmd/wg-provision/cmd"

func main() {
	cmd.Execute()
}

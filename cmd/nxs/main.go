package main

import "github.com/robert-malhotra/go-nexus/cmd/nxs/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/deploymenttheory/go-ncch/cmd"

func main() {
	cmd.Execute()
}

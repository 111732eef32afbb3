package main

import "github.com/deploymenttheory/go-vdev/cmd"

func main() {
	cmd.Execute()
}

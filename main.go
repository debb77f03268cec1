package main

import "github.com/aetherpack/aetherbot/cmd"

func main() {
	cmd.Execute()
}

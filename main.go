package main

import "claude-bridge/cmd"

func main() {
	cmd.Execute()
}

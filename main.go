package main

import "github.com/cloudface-ai/cloudface-ai.pro/cmd"

func main() {
	cmd.Execute()
}

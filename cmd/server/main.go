package main

import "github.com/medimitra/voiceagent/internal/cli"

func main() {
	cli.Execute()
}

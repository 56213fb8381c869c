package main

import "github.com/marcus/paneshift/cmd/paneshift/commands"

func main() {
	commands.Execute()
}

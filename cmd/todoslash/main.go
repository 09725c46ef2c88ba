package main

import "github.com/DrSkyle/todoslash/cmd/todoslash/commands"

func main() {
	commands.Execute()
}

package main

import "kgchat/backend/internal/cli"

func main() {
	cli.Execute()
}

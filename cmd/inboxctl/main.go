package main

import "whatsapp-inbox/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/aceteam-ai/paygrid/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/gaddyh/tami2-ai-sub000/cmd"

func main() {
	cmd.Execute()
}

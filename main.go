package main

import "github.com/WaRyXx06/astro-relay/cmd"

func main() {
	cmd.Execute()
}

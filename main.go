package main

import "github.com/sebmertens/broker-gateway/cmd"

func main() {
	cmd.Execute()
}

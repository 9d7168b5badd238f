package main

import (
	"github.com/simstream/cmd/agent"
)

func main() {
	agent.Execute()
}

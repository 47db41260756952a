package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/srodi/hotspot-exporter/cmd/hotspot-exporter/cmd"
)

func main() {
	cmd.Execute()
}

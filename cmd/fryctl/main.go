package main

import (
	"github.com/robotalks/airfryer/pkg/cli/sh"
	"github.com/robotalks/airfryer/pkg/oven"

	_ "github.com/robotalks/airfryer/pkg/cli/cmds/fryer"
)

//go-build: CGO_ENABLED=0

func init() {
	oven.SetupFlags()
}

func main() {
	sh.Main()
}

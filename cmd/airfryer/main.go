package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"os"

	"github.com/golang/glog"

	"github.com/robotalks/airfryer/pkg/framework"
	"github.com/robotalks/airfryer/pkg/oven"
)

func init() {
	oven.SetupFlags()
}

func main() {
	flag.Parse()

	env := oven.NewConfig().MustNewEnv()
	runner := framework.NewRunner().HandleSignals()
	runner.Go(framework.NamedRun("control", env.NewLoop()))
	if err := runner.Wait(); err != nil {
		glog.Errorf("control loop stopped: %v", err)
	}
	if err := env.Shutdown.Shutdown(); err != nil {
		glog.Errorf("shutdown: %v", err)
	}
	glog.Flush()
	// the controller only stops on a signal or a dead link.
	os.Exit(1)
}

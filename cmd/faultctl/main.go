// Command faultctl arms, observes and drives the fault points of
// injectors advertised in etcd.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		klog.Flush()
		os.Exit(1)
	}
}

// klogger adapts klog to the Printf logger of the fault packages.
type klogger struct{}

func (klogger) Printf(format string, v ...interface{}) {
	klog.InfofDepth(1, format, v...)
}

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ceyewan/rchat/bootstrap"
	"github.com/ceyewan/rchat/gateway"
)

func main() {
	var module string
	flag.StringVar(&module, "module", "server", "assign run module: server, init, repair")
	flag.Parse()

	fmt.Printf("🚀 Starting RChat %s...\n", module)

	switch module {
	case "server":
		g, err := gateway.New()
		if err != nil {
			fmt.Printf("❌ Failed to start server: %v\n", err)
			os.Exit(1)
		}
		defer g.Close()
		if err := g.Run(); err != nil {
			fmt.Printf("❌ Server error: %v\n", err)
			os.Exit(1)
		}
		waitForSignal()

	case "init":
		if err := bootstrap.Run(); err != nil {
			fmt.Printf("❌ Database init failed: %v\n", err)
			os.Exit(1)
		}

	case "repair":
		if err := bootstrap.Repair(); err != nil {
			fmt.Printf("❌ Count repair failed: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Printf("❌ Unknown module: %s\n", module)
		fmt.Println("Available modules: server, init, repair")
		os.Exit(1)
	}
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit

	fmt.Println("👋 Service exiting")
}

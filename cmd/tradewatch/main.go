package main

import "trading-monitor/internal/cli"

func main() {
	cli.Execute()
}

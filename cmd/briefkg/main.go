package main

import (
	"github.com/rcliao/briefkg/cmd/briefkg/cmd"
	"github.com/rcliao/briefkg/internal/logger"
)

func main() {
	logger.Init()
	cmd.Execute()
}

package main

import (
	"newsfeed/cmd/handlers"
	"newsfeed/internal/logger"
)

func main() {
	logger.Init() // Initialize the logger
	handlers.Execute()
}

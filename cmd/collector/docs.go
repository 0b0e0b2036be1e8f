package main

//go:generate swag init -g cmd/collector/main.go -o docs

// @title           Signal Collector API
// @version         0.1.0
// @description     Stored trading signals, their edit history, statistics and feature switches.
// @host            localhost:8080
// @BasePath        /
// @schemes         http

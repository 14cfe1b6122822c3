package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// A local .env is optional; real environments set variables directly.
	godotenv.Load()

	if err := Execute(); err != nil {
		os.Exit(1)
	}
}

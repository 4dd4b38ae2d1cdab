package main

import (
	"log"

	"github.com/danielkov/hireloop/cmd"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real deployments pass environment variables directly.
	if err := godotenv.Load(); err == nil {
		log.Println("loaded environment from .env file")
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

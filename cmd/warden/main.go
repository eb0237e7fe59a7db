package main

import (
	"errors"
	"io/fs"
	"log"
	"os"

	"warden/cmd/internal/app"

	"github.com/joho/godotenv"
)

func main() {
	// An optional .env file seeds variables that are not already set.
	envFile := os.Getenv("WARDEN_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load %s: %v", envFile, err)
	}

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}

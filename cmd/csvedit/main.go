// Command csvedit normalizes and inspects CSV files with the same engine
// the editor server uses, without starting a server.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/CsvEditor/internal/logging"
)

func main() {
	// CSV_* dialect defaults may come from the same .env as the server
	_ = godotenv.Load()

	logger := logging.New(os.Stderr, os.Getenv("LOG_LEVEL"), "text")

	if err := newRootCmd(logger).Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

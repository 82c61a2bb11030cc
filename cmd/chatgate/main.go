// Package main is the entry point for chatgate.
package main

import "github.com/joho/godotenv"

func main() {
	// A missing .env is fine; the real environment still applies.
	_ = godotenv.Load()

	Execute()
}

package main

import (
	"github.com/bahrain-bp/bqa-insight-ai-sub000/app"
	"github.com/gofiber/fiber/v2/log"
)

func main() {
	// setup and run app
	if err := app.SetupAndRunServer(); err != nil {
		log.Fatal(err)
	}
}

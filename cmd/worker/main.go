package main

import (
	"github.com/bahrain-bp/bqa-insight-ai-sub000/app"
	"github.com/gofiber/fiber/v2/log"
)

func main() {
	if err := app.SetupAndRunWorkers(); err != nil {
		log.Fatal(err)
	}
}

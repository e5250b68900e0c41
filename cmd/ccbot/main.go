package main

import (
	"github.com/ArseniyBogdan/currency-converter-bot/internal/cli"
)

func main() {
	cli.Execute()
}

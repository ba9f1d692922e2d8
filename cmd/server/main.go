package main

import "github.com/atmx/price-tracker/internal/cli"

func main() {
	cli.Execute()
}

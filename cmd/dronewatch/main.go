package main

import (
	"os"

	"horse.fit/dronewatch/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}

package main

import (
	"github.com/ruxplay/rulet-front-sub000/internal/app"
)

func main() {
	app.Start()
}

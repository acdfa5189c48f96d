// Package main is the entry point for the KnowBase search API server.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/knowbase/internal/search"
)

func main() {
	search.NewApp().Run()
}

// Package main is the entry point for the KnowBase ingestion worker.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/knowbase/internal/worker"
)

func main() {
	worker.NewApp().Run()
}

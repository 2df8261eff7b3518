package main

import (
	"log"

	"indexerservice/services/tapd"
)

func main() {
	if err := tapd.Main(); err != nil {
		log.Fatalf("tapd: %v", err)
	}
}

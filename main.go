package main

import (
	"context"
	"log"

	"vibenet/pkg/api"

	"github.com/ServiceWeaver/weaver"
)

//go:generate weaver generate ./...

func main() {
	if err := weaver.Run(context.Background(), api.Serve); err != nil {
		log.Fatal(err)
	}
}

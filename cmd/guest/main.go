//go:build wasip1

// Command guest is the Go build of the reference guest. It exports the same
// functions as the built-in WAT guest and can stand in for it:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o guest.wasm ./cmd/guest
//	memexchange -guest guest.wasm
package main

import "github.com/reglet-dev/memexchange/guest/reactor"

func init() {
	reactor.Init()
}

func main() {}

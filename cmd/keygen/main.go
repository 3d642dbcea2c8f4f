// Command keygen mints an API key and prints the hash to configure under
// BRIDGE_AUTH_API_KEYS. The plain key is shown once and never stored.
package main

import (
	"fmt"
	"log"

	"github.com/ingestkit/docbridge/internal/auth"
)

func main() {
	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	fmt.Printf("key:  %s\n", key)
	fmt.Printf("hash: %s\n", hash)
}

// Command anonymizer replaces names, organizations, locations, emails, phone
// numbers and URLs in a text with [LABEL_N] placeholders, and restores them.
//
// Structured entities are found with regular expressions; names and places
// come from a local Ollama model. Every run is a session whose placeholder
// mapping is saved, so the redacted text can be restored later.
//
// Usage:
//
//	# Anonymize a file, keep the outputs
//	./anonymizer anonymize letter.txt --out output/
//
//	# Patterns only, from stdin
//	cat letter.txt | ./anonymizer anonymize --no-ner
//
//	# Restore
//	./anonymizer restore redacted.txt --session 0c7e…
//	./anonymizer restore redacted.txt --mapping output/entity_mappings.txt
//
//	# HTTP API on 127.0.0.1:8081
//	./anonymizer serve
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// Command dumpconfig loads the resolved configuration and prints the model
// endpoint wiring, for checking env overrides before starting the server.
package main

import (
	"log"

	"github.com/ingestkit/docbridge/internal/config"
)

func main() {
	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.Printf("deplot: protocol=%s endpoint=%s model=%s batch=%d",
		cfg.Inference.Deplot.Protocol, cfg.Inference.Deplot.Endpoint,
		cfg.Inference.Deplot.Model, cfg.Inference.Deplot.MaxBatchSize)
	log.Printf("doughnut: protocol=%s endpoint=%s model=%s batch=%d",
		cfg.Inference.Doughnut.Protocol, cfg.Inference.Doughnut.Endpoint,
		cfg.Inference.Doughnut.Model, cfg.Inference.Doughnut.MaxBatchSize)
	log.Printf("extraction: text_depth=%s max_pages=%d", cfg.Extraction.TextDepth, cfg.Extraction.MaxPages)
	log.Printf("assets: storage=%s", cfg.Assets.Storage)
}

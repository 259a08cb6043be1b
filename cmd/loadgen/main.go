// Command loadgen publishes synthetic collector documents to the pipeline's
// Kafka topic. A configurable share of documents carries inline image
// placeholders, exercising both worker pools and the placeholder rewriter.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lifearchive/enrichment-pipeline/internal/document"
	"github.com/lifearchive/enrichment-pipeline/pkg/config"
	"github.com/lifearchive/enrichment-pipeline/pkg/kafka"
	"github.com/lifearchive/enrichment-pipeline/pkg/logger"
)

type stats struct {
	published  atomic.Int64
	withImages atomic.Int64
	errors     atomic.Int64
}

var snippets = []string{
	"Lunch with the team next Thursday, same place as last time.",
	"Attached the signed lease agreement for the new apartment.",
	"Flight confirmation: BOS to SFO, departing 08:15.",
	"Grandma's recipe for the apple cake, finally written down.",
	"Reminder: dentist appointment moved to the 14th.",
	"Photos from the hiking trip, the view from the ridge was unreal.",
	"Invoice #4417 for the kitchen renovation, due end of month.",
	"Notes from the school meeting.",
	"Happy birthday! The package should arrive by Friday.",
	"Meeting minutes: decided to go with the second vendor.",
}

var sourceTypes = []string{"gmail", "imessage", "dropbox", "icloud-photos"}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	count := flag.Int("count", 1000, "number of documents to publish")
	concurrency := flag.Int("concurrency", 4, "number of concurrent publishers")
	imagePct := flag.Int("image-pct", 30, "percentage of documents carrying an image")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	fmt.Println("=== Collector Load Generator ===")
	fmt.Printf("Brokers:     %v\n", cfg.Kafka.Brokers)
	fmt.Printf("Topic:       %s\n", cfg.Kafka.Topics.Documents)
	fmt.Printf("Documents:   %d\n", *count)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("With images: %d%%\n", *imagePct)
	fmt.Println()

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Documents)
	defer producer.Close()

	s := &stats{}
	start := time.Now()
	run(producer, s, *count, *concurrency, *imagePct)
	elapsed := time.Since(start)

	fmt.Println("=== Results ===")
	fmt.Printf("Published:   %d\n", s.published.Load())
	fmt.Printf("With images: %d\n", s.withImages.Load())
	fmt.Printf("Errors:      %d\n", s.errors.Load())
	fmt.Printf("Elapsed:     %s\n", elapsed.Round(time.Millisecond))
	if elapsed > 0 {
		fmt.Printf("Docs/sec:    %.1f\n", float64(s.published.Load())/elapsed.Seconds())
	}
	if s.errors.Load() > 0 {
		os.Exit(1)
	}
}

func run(producer *kafka.Producer, s *stats, count, concurrency, imagePct int) {
	ctx := context.Background()
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for n := range jobs {
				doc := synthDocument(rng, n, imagePct)
				if doc.HasImages() {
					s.withImages.Add(1)
				}
				event := kafka.Event{
					Key:   doc.SourceType + ":" + doc.ExternalID,
					Value: doc,
				}
				if err := producer.Publish(ctx, event); err != nil {
					s.errors.Add(1)
					continue
				}
				s.published.Add(1)
			}
		}(w)
	}

	for n := 0; n < count; n++ {
		jobs <- n
	}
	close(jobs)
	wg.Wait()
}

// synthDocument builds one synthetic collector document. Image-bearing
// documents embed a placeholder referencing a small deterministic byte blob
// so ids stay stable across runs.
func synthDocument(rng *rand.Rand, n, imagePct int) *document.CollectorDocument {
	source := sourceTypes[rng.Intn(len(sourceTypes))]
	content := snippets[rng.Intn(len(snippets))]
	doc := &document.CollectorDocument{
		SourceType:  source,
		ExternalID:  fmt.Sprintf("loadgen-%s-%06d", source, n),
		Content:     content,
		ContentType: document.ContentTypeMessage,
		Metadata: document.Metadata{
			CreatedAt: time.Now().UTC(),
			Extra:     map[string]string{"generator": "loadgen"},
		},
	}

	if rng.Intn(100) < imagePct {
		data := []byte(fmt.Sprintf("synthetic-image-%06d", n))
		id := document.EmbeddedImageID(data)
		doc.Images = []document.ImageAttachment{{
			ID:       id,
			Filename: fmt.Sprintf("photo-%06d.jpg", n),
			Data:     data,
		}}
		doc.Content = content + fmt.Sprintf("\n{IMG:%s}", id)
	}
	return doc
}

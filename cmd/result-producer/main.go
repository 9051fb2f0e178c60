package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/elo-ladder/internal/domain"
)

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

func playerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "game-results", "Kafka topic")
	totalPlayers := flag.Int("players", 50, "Number of simulated players")
	resultsPerSecond := flag.Int("rate", 10, "Results per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	confirmed := flag.Bool("confirmed", true, "Publish results as pre-confirmed")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("Game result producer")
	fmt.Printf("  Brokers:      %s\n", *brokers)
	fmt.Printf("  Topic:        %s\n", *topic)
	fmt.Printf("  Players:      %d\n", *totalPlayers)
	fmt.Printf("  Results/sec:  %d\n", *resultsPerSecond)
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	sendResult := func() {
		winner := rand.Intn(*totalPlayers)
		loser := rand.Intn(*totalPlayers)
		for loser == winner {
			loser = rand.Intn(*totalPlayers)
		}
		score := rand.Intn(3)

		res := domain.ResultEvent{
			WinnerExternalID: int64(1000 + winner),
			WinnerName:       playerName(winner),
			LoserExternalID:  int64(1000 + loser),
			LoserName:        playerName(loser),
			LosingScore:      &score,
			Confirmed:        *confirmed,
			Timestamp:        time.Now(),
		}

		data, err := json.Marshal(res)
		if err != nil {
			log.Printf("Failed to marshal result: %v", err)
			return
		}

		producer.Input() <- &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(strconv.FormatInt(res.WinnerExternalID, 10)),
			Value: sarama.ByteEncoder(data),
		}
	}

	go func() {
		defer close(done)

		interval := time.Second / time.Duration(*resultsPerSecond)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var deadline <-chan time.Time
		if *duration > 0 {
			deadline = time.After(*duration)
		}

		for {
			select {
			case <-ticker.C:
				sendResult()
			case <-deadline:
				return
			case <-sigChan:
				return
			}
		}
	}()

	<-done

	// Drain in-flight messages before reading the counters
	producer.AsyncClose()
	wg.Wait()

	fmt.Printf("\nDone. Sent %d results, %d errors\n",
		atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
}

package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/streme-leaderboard/internal/domain"
	"github.com/streme-leaderboard/internal/kafka"
)

var playerPrefixes = []string{
	"River", "Rapid", "Otter", "Heron", "Delta", "Canoe", "Raft", "Current", "Eddy", "Brook",
	"Pike", "Trout", "Salmon", "Reed", "Willow", "Cascade", "Falls", "Stream", "Bayou", "Marsh",
}

var tokens = []string{"STREME", "DEGEN", "HIGHER", "TN100X", "ENJOY"}

func playerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

// session builds a plausible game session for the player at idx. Players
// near the top of the list score higher so the leaderboard has some shape.
func session(rng *rand.Rand, idx int, firstFID int64) domain.ScoreInput {
	fid := firstFID + int64(idx)
	name := strings.ToLower(playerName(idx))
	display := fmt.Sprintf("%s the Rafter", playerName(idx))

	var score float64
	switch {
	case idx < 10:
		score = float64(rng.Intn(800) + 400)
	case idx < 50:
		score = float64(rng.Intn(600) + 300)
	default:
		score = float64(rng.Intn(400) + 200)
	}
	collected := float64(rng.Intn(40))
	level := float64(rng.Intn(8) + 1)
	favorite := tokens[rng.Intn(len(tokens))]

	return domain.ScoreInput{
		PlayerID:        &fid,
		Username:        &name,
		DisplayName:     &display,
		AvatarURL:       fmt.Sprintf("https://imagedelivery.net/streme/%d.png", fid),
		Score:           &score,
		TokensCollected: &collected,
		Level:           &level,
		FavoriteToken:   map[string]interface{}{"symbol": favorite},
		TokenStats:      map[string]interface{}{favorite: int(collected)},
		GameplayStats: map[string]interface{}{
			"distanceTraveled": rng.Intn(5000),
			"obstaclesAvoided": rng.Intn(120),
			"durationSeconds":  rng.Intn(300) + 20,
		},
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "streme-scores", "Kafka topic")
	totalPlayers := flag.Int("players", 200, "Number of distinct players")
	firstFID := flag.Int64("first-fid", 1000, "fid of the first synthetic player")
	rate := flag.Int("rate", 20, "Sessions per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	if *totalPlayers <= 0 || *rate <= 0 {
		log.Fatal("players and rate must be positive")
	}
	if last := *firstFID + int64(*totalPlayers); *firstFID <= 0 || last >= domain.DefaultReservedPlayerIDThreshold {
		log.Fatalf("fids %d..%d fall outside the accepted range", *firstFID, last-1)
	}

	producer, err := kafka.NewProducer(strings.Split(*brokers, ","), *topic)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	fmt.Printf("Publishing %d sessions/sec for %d players to %s on %s\n", *rate, *totalPlayers, *topic, *brokers)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var sent, failed int64

	for {
		select {
		case <-sigChan:
			fmt.Printf("\nStopped. Sent: %d, Errors: %d\n", sent, failed)
			return

		case <-deadline:
			fmt.Printf("\nDuration reached. Sent: %d, Errors: %d\n", sent, failed)
			return

		case <-ticker.C:
			// 70% of sessions come from the top 20 players to create movement
			idx := rng.Intn(*totalPlayers)
			if *totalPlayers > 20 && rng.Intn(100) < 70 {
				idx = rng.Intn(20)
			}

			if err := producer.Publish(session(rng, idx, *firstFID)); err != nil {
				failed++
				log.Printf("Producer error: %v", err)
				continue
			}
			sent++

		case <-statsTicker.C:
			fmt.Printf("[%s] Sent: %d | Errors: %d\n", time.Now().Format("15:04:05"), sent, failed)
		}
	}
}

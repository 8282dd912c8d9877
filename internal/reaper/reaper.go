package reaper

import (
	"log"
	"sync"
	"time"

	"github.com/pairlens/pairlens/internal/db"
)

type Config struct {
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
	}
}

// Service sweeps rooms past their retention window out of the database.
type Service struct {
	database *db.Database
	config   Config
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(database *db.Database, config Config) *Service {
	return &Service{
		database: database,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("🧹 Room reaper started (interval: %v)", s.config.Interval)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Println("🧹 Room reaper stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Service) sweep() {
	expired, err := s.database.ExpireRooms(time.Now())
	if err != nil {
		log.Printf("Reaper: failed to expire rooms: %v", err)
		return
	}

	if expired > 0 {
		log.Printf("🧹 Expired %d rooms", expired)
	}
}

// SweepNow runs a single sweep outside the ticker.
func (s *Service) SweepNow() {
	s.sweep()
}
